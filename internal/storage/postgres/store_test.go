package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(postgresTestDSN(t))
	require.NoError(t, err)
	require.NoError(t, store.ClearAll(context.Background()))
	t.Cleanup(func() {
		_ = store.ClearAll(context.Background())
		_ = store.Close()
	})
	return store
}

func TestCellRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cell := types.NewMemCell("Discussed the Kyoto trip itinerary", now)
	cell.AtomicFacts = []string{"User is visiting Kyoto in April"}
	cell.Embedding = []float32{0.1, 0.25, 0.5, 0.125}

	require.NoError(t, store.UpsertCell(ctx, cell))

	got, err := store.GetCell(ctx, cell.ID)
	require.NoError(t, err)
	assert.Equal(t, cell.Episode, got.Episode)
	assert.Equal(t, cell.AtomicFacts, got.AtomicFacts)
	assert.Equal(t, cell.Embedding, got.Embedding)

	_, err = store.GetCell(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearchCellsRanksByCosine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	exact := types.NewMemCell("exact match", now)
	exact.Embedding = []float32{1, 0}
	mid := types.NewMemCell("partial match", now)
	mid.Embedding = []float32{1, 1}
	far := types.NewMemCell("orthogonal", now)
	far.Embedding = []float32{0, 1}

	for _, c := range []*types.MemCell{exact, mid, far} {
		require.NoError(t, store.UpsertCell(ctx, c))
	}

	results, err := store.SearchCells(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, exact.ID, results[0].Cell.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, mid.ID, results[1].Cell.ID)
}

func TestSceneAndProfileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sceneB := &types.MemScene{ID: "scene-b", Theme: "travel", MemCellIDs: []string{"c1"}, Centroid: []float32{0.5, 0.5}, CreatedAt: now, UpdatedAt: now}
	sceneA := &types.MemScene{ID: "scene-a", Theme: "work", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.UpsertScene(ctx, sceneB))
	require.NoError(t, store.UpsertScene(ctx, sceneA))

	scenes, err := store.GetAllScenes(ctx)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "scene-a", scenes[0].ID)
	assert.Equal(t, "scene-b", scenes[1].ID)

	profile := types.NewUserProfile("user-1")
	profile.UpdateExplicitFact("location", types.ExplicitFact{
		Attribute: "location", Value: "Kyoto", Timestamp: now, SourceCell: "c1", Confidence: 0.95,
	})
	require.NoError(t, store.SaveProfile(ctx, profile))

	got, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Kyoto", got.ExplicitFacts["location"].Value)
}

func TestDeleteNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.DeleteCell(ctx, "missing"), storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteScene(ctx, "missing"), storage.ErrNotFound)
}
