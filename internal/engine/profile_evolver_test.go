package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/internal/storage/memory"
	"github.com/evermemos/evermemos/pkg/types"
)

func profileScene(t *testing.T, cellIDs ...string) *types.MemScene {
	t.Helper()
	cell := types.NewMemCell("seed", time.Now())
	if len(cellIDs) > 0 {
		cell.ID = cellIDs[0]
	}
	cell.Embedding = []float32{1}
	scene := types.NewMemScene("Career", "The user works at Acme.", cell, time.Now())
	scene.MemCellIDs = cellIDs
	return scene
}

func extractionGen(response string) *stubGenerator {
	return &stubGenerator{withSystemFn: systemRouter(map[string]string{
		llm.SystemProfileExtraction: response,
	})}
}

func TestEvolveFromSceneCreatesProfileLazily(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	e := NewProfileEvolver(store, extractionGen(`{
		"explicit_facts": [{"attribute": "employer", "value": "Acme", "confidence": 0.9}],
		"implicit_traits": []
	}`))

	scene := profileScene(t, "cell-1")
	conflicts, err := e.EvolveFromScene(ctx, scene, "alice")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Acme", profile.ExplicitFacts["employer"].Value)
	assert.Equal(t, "cell-1", profile.ExplicitFacts["employer"].SourceCell)
	assert.Equal(t, []string{scene.ID}, profile.SourceScenes)
}

func TestEvolveFromSceneRecordsConflictOnChangedValue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	e := NewProfileEvolver(store, extractionGen(`{
		"explicit_facts": [{"attribute": "employer", "value": "Acme", "confidence": 0.9}]
	}`))
	_, err := e.EvolveFromScene(ctx, profileScene(t, "cell-1"), "alice")
	require.NoError(t, err)

	e = NewProfileEvolver(store, extractionGen(`{
		"explicit_facts": [{"attribute": "employer", "value": "Globex", "confidence": 0.9}]
	}`))
	conflicts, err := e.EvolveFromScene(ctx, profileScene(t, "cell-2"), "alice")
	require.NoError(t, err)

	// Last write wins, with exactly one audit record for the change.
	require.Len(t, conflicts, 1)
	assert.Equal(t, "employer", conflicts[0].Attribute)
	assert.Equal(t, "Acme", conflicts[0].OldValue)
	assert.Equal(t, "Globex", conflicts[0].NewValue)
	assert.Equal(t, types.ResolutionRecency, conflicts[0].Resolution)

	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Globex", profile.ExplicitFacts["employer"].Value)
	assert.Len(t, profile.ConflictHistory, 1)
}

func TestEvolveFromSceneSameValueNoConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gen := extractionGen(`{
		"explicit_facts": [{"attribute": "employer", "value": "Acme", "confidence": 0.9}]
	}`)
	e := NewProfileEvolver(store, gen)

	_, err := e.EvolveFromScene(ctx, profileScene(t, "cell-1"), "alice")
	require.NoError(t, err)
	conflicts, err := e.EvolveFromScene(ctx, profileScene(t, "cell-2"), "alice")
	require.NoError(t, err)

	assert.Empty(t, conflicts)
	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, profile.ConflictHistory)
	// A re-assertion refreshes the source attribution.
	assert.Equal(t, "cell-2", profile.ExplicitFacts["employer"].SourceCell)
}

func TestEvolveFromSceneMergesSimilarTraits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	e := NewProfileEvolver(store, extractionGen(`{
		"implicit_traits": [{"type": "preference", "description": "enjoys hiking in the mountains", "strength": 0.6}]
	}`))
	scene1 := profileScene(t, "cell-1")
	_, err := e.EvolveFromScene(ctx, scene1, "alice")
	require.NoError(t, err)

	e = NewProfileEvolver(store, extractionGen(`{
		"implicit_traits": [{"type": "preference", "description": "enjoys hiking in the alps", "strength": 0.8}]
	}`))
	scene2 := profileScene(t, "cell-2")
	_, err = e.EvolveFromScene(ctx, scene2, "alice")
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, profile.ImplicitTraits, 1)

	trait := profile.ImplicitTraits[0]
	assert.InDelta(t, 0.7, trait.Strength, 1e-9)
	assert.Equal(t, []string{scene1.ID, scene2.ID}, trait.Evidence)
}

func TestEvolveFromSceneAppendsDissimilarTraits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	e := NewProfileEvolver(store, extractionGen(`{
		"implicit_traits": [{"type": "preference", "description": "enjoys hiking in the mountains", "strength": 0.6}]
	}`))
	_, err := e.EvolveFromScene(ctx, profileScene(t, "cell-1"), "alice")
	require.NoError(t, err)

	e = NewProfileEvolver(store, extractionGen(`{
		"implicit_traits": [{"type": "habit", "description": "wakes up before six", "strength": 0.5}]
	}`))
	_, err = e.EvolveFromScene(ctx, profileScene(t, "cell-2"), "alice")
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, profile.ImplicitTraits, 2)
}

func TestEvolveFromSceneFailsClosedOnModelError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gen := &stubGenerator{withSystemFn: func(_ context.Context, system, _ string) (string, error) {
		if system == llm.SystemProfileExtraction {
			return "", errStub
		}
		return "ok", nil
	}}
	e := NewProfileEvolver(store, gen)

	scene := profileScene(t, "cell-1")
	conflicts, err := e.EvolveFromScene(ctx, scene, "alice")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// The profile records the scene but fabricates no facts or traits.
	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, profile.ExplicitFacts)
	assert.Empty(t, profile.ImplicitTraits)
	assert.Equal(t, []string{scene.ID}, profile.SourceScenes)
}

func TestEvolveFromSceneNilScene(t *testing.T) {
	e := NewProfileEvolver(memory.NewStore(), &stubGenerator{})
	_, err := e.EvolveFromScene(context.Background(), nil, "alice")
	assert.Error(t, err)
}

func TestGetProfileLazyDefault(t *testing.T) {
	e := NewProfileEvolver(memory.NewStore(), &stubGenerator{})
	profile, err := e.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", profile.UserID)
	assert.Empty(t, profile.ExplicitFacts)
}
