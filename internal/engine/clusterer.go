// Package engine implements the consolidation-and-retrieval core: online
// clustering of memory cells into themed scenes, conflict-aware profile
// evolution, hybrid dense+sparse retrieval with reciprocal rank fusion,
// temporal validity filtering, and the bounded sufficiency loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// ErrMissingEmbedding is returned when a cell reaches the clusterer without
// an embedding. The call leaves scene and cell state untouched.
var ErrMissingEmbedding = errors.New("engine: memcell has no embedding")

// DefaultSceneSimilarityThreshold is the cosine similarity a cell must reach
// against a scene centroid to be assimilated into that scene.
const DefaultSceneSimilarityThreshold = 0.70

// IncrementalClusterer assigns each new MemCell to an existing MemScene or
// creates a new one, maintaining a streaming mean centroid per scene. It is
// an online mechanism: no batch reprocessing, one store round trip per cell.
type IncrementalClusterer struct {
	cells     storage.MemCellStore
	scenes    storage.SceneStore
	gen       llm.TextGenerator
	threshold float64
}

// NewIncrementalClusterer creates a clusterer over the given stores.
// A threshold of 0 selects DefaultSceneSimilarityThreshold.
func NewIncrementalClusterer(cells storage.MemCellStore, scenes storage.SceneStore, gen llm.TextGenerator, threshold float64) *IncrementalClusterer {
	if threshold == 0 {
		threshold = DefaultSceneSimilarityThreshold
	}
	return &IncrementalClusterer{
		cells:     cells,
		scenes:    scenes,
		gen:       gen,
		threshold: threshold,
	}
}

// Assign clusters a cell into the best-matching scene, or creates a new
// scene when no centroid reaches the similarity threshold. It returns the
// resulting scene and whether it was newly created.
//
// Scenes are scanned in ascending ID order and exact similarity ties keep
// the first scene encountered, so assignments are reproducible.
func (c *IncrementalClusterer) Assign(ctx context.Context, cell *types.MemCell) (*types.MemScene, bool, error) {
	if cell == nil || len(cell.Embedding) == 0 {
		return nil, false, ErrMissingEmbedding
	}

	scenes, err := c.scenes.GetAllScenes(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("engine: failed to load scenes: %w", err)
	}

	var best *types.MemScene
	bestSim := -1.0
	for _, scene := range scenes {
		if len(scene.Centroid) == 0 {
			continue
		}
		sim := CosineSimilarity(cell.Embedding, scene.Centroid)
		if sim > bestSim {
			bestSim = sim
			best = scene
		}
	}

	now := time.Now()
	if best == nil || bestSim < c.threshold {
		scene, err := c.createScene(ctx, cell, now)
		if err != nil {
			return nil, false, err
		}
		return scene, true, nil
	}

	scene, err := c.assimilate(ctx, cell, best, now)
	if err != nil {
		return nil, false, err
	}
	return scene, false, nil
}

func (c *IncrementalClusterer) createScene(ctx context.Context, cell *types.MemCell, now time.Time) (*types.MemScene, error) {
	theme := c.generateTheme(ctx, []string{cell.Episode})
	scene := types.NewMemScene(theme, cell.Episode, cell, now)
	cell.SceneID = scene.ID

	if err := c.scenes.UpsertScene(ctx, scene); err != nil {
		return nil, fmt.Errorf("engine: failed to store new scene: %w", err)
	}
	if err := c.cells.UpsertCell(ctx, cell); err != nil {
		return nil, fmt.Errorf("engine: failed to store cell: %w", err)
	}
	return scene, nil
}

func (c *IncrementalClusterer) assimilate(ctx context.Context, cell *types.MemCell, scene *types.MemScene, now time.Time) (*types.MemScene, error) {
	scene.MemCellIDs = append(scene.MemCellIDs, cell.ID)
	scene.AbsorbCentroid(cell.Embedding)
	scene.Summary = c.updateSummary(ctx, scene, cell)
	scene.UpdatedAt = now
	cell.SceneID = scene.ID

	if err := c.scenes.UpsertScene(ctx, scene); err != nil {
		return nil, fmt.Errorf("engine: failed to update scene %s: %w", scene.ID, err)
	}
	if err := c.cells.UpsertCell(ctx, cell); err != nil {
		return nil, fmt.Errorf("engine: failed to store cell: %w", err)
	}
	return scene, nil
}

// generateTheme derives a short theme title from episode narratives.
// Falls back to a truncation of the first episode when the model fails.
func (c *IncrementalClusterer) generateTheme(ctx context.Context, episodes []string) string {
	raw, err := c.gen.Complete(ctx, llm.ThemePrompt(episodes))
	if err != nil {
		log.Printf("engine: theme generation failed, using fallback: %v", err)
		return fallbackTheme(episodes[0])
	}
	theme := llm.CleanTheme(raw)
	if theme == "" {
		return fallbackTheme(episodes[0])
	}
	return theme
}

// updateSummary regenerates the scene summary to fold in a new episode.
// The previous summary is kept when the model fails.
func (c *IncrementalClusterer) updateSummary(ctx context.Context, scene *types.MemScene, cell *types.MemCell) string {
	raw, err := c.gen.Complete(ctx, llm.SceneSummaryPrompt(scene.Summary, cell.Episode))
	if err != nil {
		log.Printf("engine: scene summary update failed, keeping previous summary: %v", err)
		return scene.Summary
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return scene.Summary
	}
	return summary
}

func fallbackTheme(episode string) string {
	words := strings.Fields(episode)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
