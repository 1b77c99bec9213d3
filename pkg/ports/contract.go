package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring/palette/pkg/domain"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore
// implementation adheres to the defined interface contract. Adapter test
// suites call this against their concrete store.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	graph, err := domain.DefaultStageGraph().Lookup("tree")
	require.NoError(t, err)

	session := domain.NewSession("contract-session", graph, "Animals")

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "no-such-session")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, session))

		loaded, err := store.Load(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "tree", loaded.DiagramType)
		assert.Equal(t, "dimensions", loaded.Stage)
		assert.NotNil(t, loaded.Tab("dimensions"), "initial tab should survive a round trip")
	})

	t.Run("Loads Are Isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, session.ID)
		require.NoError(t, err)
		loaded.Topic = "mutated"

		again, err := store.Load(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Animals", again.Topic, "loads must not share state with callers")
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, session.ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, session.ID))

		_, err := store.Load(ctx, session.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
