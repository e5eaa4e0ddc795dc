package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermemos/evermemos/internal/storage/memory"
	"github.com/evermemos/evermemos/pkg/types"
)

func newCell(t *testing.T, episode string, embedding []float32) *types.MemCell {
	t.Helper()
	cell := types.NewMemCell(episode, time.Now())
	cell.Embedding = embedding
	return cell
}

func TestAssignCreatesSceneWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gen := &stubGenerator{completeFn: func(_ context.Context, _ string) (string, error) {
		return "Kyoto Trip", nil
	}}
	c := NewIncrementalClusterer(store, store, gen, 0)

	cell := newCell(t, "The user planned a trip to Kyoto.", []float32{1, 0, 0})
	scene, created, err := c.Assign(ctx, cell)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Kyoto Trip", scene.Theme)
	assert.Equal(t, []string{cell.ID}, scene.MemCellIDs)
	assert.Equal(t, scene.ID, cell.SceneID)

	// Both sides of the assignment are persisted.
	stored, err := store.GetCell(ctx, cell.ID)
	require.NoError(t, err)
	assert.Equal(t, scene.ID, stored.SceneID)
	_, err = store.GetScene(ctx, scene.ID)
	require.NoError(t, err)
}

func TestAssignAssimilatesAboveThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gen := &stubGenerator{completeFn: func(_ context.Context, _ string) (string, error) {
		return "merged summary", nil
	}}
	c := NewIncrementalClusterer(store, store, gen, 0.70)

	first := newCell(t, "The user booked flights to Kyoto.", []float32{1, 0})
	scene, created, err := c.Assign(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	// Cosine 1.0 against the centroid, well above the threshold.
	second := newCell(t, "The user reserved a ryokan in Kyoto.", []float32{1, 0})
	got, created, err := c.Assign(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, scene.ID, got.ID)
	assert.Equal(t, []string{first.ID, second.ID}, got.MemCellIDs)
	assert.Equal(t, "merged summary", got.Summary)
}

func TestAssignCreatesSceneBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := NewIncrementalClusterer(store, store, &stubGenerator{}, 0.70)

	first := newCell(t, "The user booked flights to Kyoto.", []float32{1, 0})
	_, _, err := c.Assign(ctx, first)
	require.NoError(t, err)

	// Orthogonal embedding: similarity 0, new scene.
	second := newCell(t, "The user adopted a cat.", []float32{0, 1})
	_, created, err := c.Assign(ctx, second)
	require.NoError(t, err)
	assert.True(t, created)

	scenes, err := store.GetAllScenes(ctx)
	require.NoError(t, err)
	assert.Len(t, scenes, 2)
}

func TestAssignTieKeepsFirstScene(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := NewIncrementalClusterer(store, store, &stubGenerator{}, 0.5)

	// Two scenes with identical centroids. The scan visits scenes in
	// ascending ID order, so an exact tie lands on the lower ID.
	a := types.NewMemScene("a", "a", newCell(t, "a", []float32{1, 0}), time.Now())
	b := types.NewMemScene("b", "b", newCell(t, "b", []float32{1, 0}), time.Now())
	require.NoError(t, store.UpsertScene(ctx, a))
	require.NoError(t, store.UpsertScene(ctx, b))

	want := a.ID
	if b.ID < a.ID {
		want = b.ID
	}

	cell := newCell(t, "tie", []float32{1, 0})
	scene, created, err := c.Assign(ctx, cell)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, want, scene.ID)
}

func TestAssignRejectsMissingEmbeddingWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := NewIncrementalClusterer(store, store, &stubGenerator{}, 0)

	cell := types.NewMemCell("no embedding", time.Now())
	_, _, err := c.Assign(ctx, cell)
	assert.ErrorIs(t, err, ErrMissingEmbedding)

	_, _, err = c.Assign(ctx, nil)
	assert.ErrorIs(t, err, ErrMissingEmbedding)

	scenes, err := store.GetAllScenes(ctx)
	require.NoError(t, err)
	assert.Empty(t, scenes)
	cells, err := store.GetAllCells(ctx)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestCentroidIsMeanRegardlessOfOrder(t *testing.T) {
	ctx := context.Background()
	embeddings := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0.8, 0.2, 0},
	}
	permutations := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}

	var centroids [][]float32
	for _, perm := range permutations {
		store := memory.NewStore()
		c := NewIncrementalClusterer(store, store, &stubGenerator{}, 0.5)

		var sceneID string
		for _, i := range perm {
			scene, _, err := c.Assign(ctx, newCell(t, "episode", embeddings[i]))
			require.NoError(t, err)
			sceneID = scene.ID
		}

		scenes, err := store.GetAllScenes(ctx)
		require.NoError(t, err)
		require.Len(t, scenes, 1)
		require.Equal(t, sceneID, scenes[0].ID)
		centroids = append(centroids, scenes[0].Centroid)
	}

	// The centroid is the arithmetic mean of member embeddings, so every
	// insertion order converges to the same vector.
	for dim := 0; dim < 3; dim++ {
		want := (embeddings[0][dim] + embeddings[1][dim] + embeddings[2][dim]) / 3
		for _, centroid := range centroids {
			assert.InDelta(t, want, centroid[dim], 1e-5)
		}
	}
}

func TestThemeFallbackOnModelFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gen := &stubGenerator{completeFn: func(_ context.Context, _ string) (string, error) {
		return "", errStub
	}}
	c := NewIncrementalClusterer(store, store, gen, 0)

	cell := newCell(t, "The user started learning the violin last month in Oslo.", []float32{1})
	scene, created, err := c.Assign(ctx, cell)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "The user started learning the", scene.Theme)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
