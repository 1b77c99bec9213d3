package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring/palette/pkg/adapters/redis"
	"github.com/mindspring/palette/pkg/domain"
	"github.com/mindspring/palette/pkg/ports"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	return mr, backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func testSession(t *testing.T, id string) *domain.Session {
	t.Helper()
	graph, err := domain.DefaultStageGraph().Lookup("tree")
	require.NoError(t, err)
	return domain.NewSession(id, graph, "Animals")
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newTestClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	sess := testSession(t, "session-ttl")

	require.NoError(t, store.Save(ctx, sess))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, sessions, "session-ttl")

	// Fast forward time in miniredis (for key expiration)
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "session-ttl")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Index pruning relies on time.Now() for the cutoff score, so wait past
	// the real-clock TTL before asserting the lazy cleanup.
	time.Sleep(1200 * time.Millisecond)

	sessions, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newTestClient(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	sess := testSession(t, "my-session")

	require.NoError(t, store.Save(ctx, sess))

	assert.True(t, mr.Exists("custom:app:my-session"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, "my-session")
}

func TestRedisStore_RoundTripPreservesTabs(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	sess := testSession(t, "round-trip")
	tab := sess.Tab("dimensions")
	tab.Nodes = append(tab.Nodes, domain.Node{
		ID: "n1", Text: "Habitat", NormalizedText: "habitat",
		SourceProvider: "qwen", Tab: "dimensions",
	})
	tab.SequenceCounter = 3
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, "round-trip")
	require.NoError(t, err)

	got := loaded.Tab("dimensions")
	require.NotNil(t, got)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "Habitat", got.Nodes[0].Text)
	assert.Equal(t, "qwen", got.Nodes[0].SourceProvider)
	assert.Equal(t, uint64(3), got.SequenceCounter)
}
