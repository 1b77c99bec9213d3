package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring/palette/pkg/adapters/memory"
	"github.com/mindspring/palette/pkg/domain"
	"github.com/mindspring/palette/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := memory.NewStore(memory.WithTTL(50 * time.Millisecond))
	defer store.Close()
	ctx := context.Background()

	graph, err := domain.DefaultStageGraph().Lookup("bubble")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, domain.NewSession("short-lived", graph, "The Sun")))

	_, err = store.Load(ctx, "short-lived")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = store.Load(ctx, "short-lived")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "expired sessions read as missing")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "short-lived")
}

func TestMemoryStore_SaveRefreshesTTL(t *testing.T) {
	store := memory.NewStore(memory.WithTTL(80 * time.Millisecond))
	defer store.Close()
	ctx := context.Background()

	graph, err := domain.DefaultStageGraph().Lookup("bubble")
	require.NoError(t, err)
	sess := domain.NewSession("refreshed", graph, "The Sun")
	require.NoError(t, store.Save(ctx, sess))

	// Keep re-saving past the original deadline; the session must stay alive.
	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, store.Save(ctx, sess))
	}

	_, err = store.Load(ctx, "refreshed")
	assert.NoError(t, err)
}
