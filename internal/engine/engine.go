package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/evermemos/evermemos/internal/config"
	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// Engine wires the full memory pipeline: episodic extraction, incremental
// consolidation, and reconstructive recollection over a shared store.
type Engine struct {
	store     storage.Store
	gen       llm.TextGenerator
	embedder  llm.EmbeddingGenerator
	episodic  *EpisodicProcessor
	clusterer *IncrementalClusterer
	evolver   *ProfileEvolver
	retriever *HybridRetriever
	recall    *SufficiencyLoop
	filter    TemporalValidityFilter
}

// New assembles an engine from its collaborators using the given
// configuration. A nil cfg selects all defaults.
func New(store storage.Store, gen llm.TextGenerator, embedder llm.EmbeddingGenerator, cfg *config.Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if gen == nil || embedder == nil {
		return nil, fmt.Errorf("engine: text and embedding generators are required")
	}
	if cfg == nil {
		loaded, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	retriever, err := NewHybridRetriever(store, embedder, RetrieverConfig{
		RRFK:           cfg.Retrieval.RRFK,
		TopKRetrieval:  cfg.Retrieval.TopKRetrieval,
		TopKScenes:     cfg.Retrieval.TopKScenes,
		SceneCacheSize: cfg.Retrieval.SceneCacheSize,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:    store,
		gen:      gen,
		embedder: embedder,
		episodic: NewEpisodicProcessor(gen, embedder, EpisodicConfig{
			SlidingWindowSize:   cfg.Segmentation.SlidingWindowSize,
			TopicShiftThreshold: cfg.Segmentation.TopicShiftThreshold,
			ShortConversation:   cfg.Segmentation.ShortConversation,
		}),
		clusterer: NewIncrementalClusterer(store, store, gen, cfg.Consolidation.SceneSimilarityThreshold),
		evolver:   NewProfileEvolver(store, gen),
		retriever: retriever,
		recall:    NewSufficiencyLoop(retriever, gen, cfg.Retrieval.MaxQueryRewrites, cfg.Retrieval.TopKEpisodes),
	}, nil
}

// IngestReport summarizes one ingestion pass.
type IngestReport struct {
	CellsCreated  int
	NewScenes     int
	ScenesUpdated int
	Conflicts     []types.ConflictRecord
}

// IngestTranscript runs the full write path for a raw transcript: parse,
// segment, extract, cluster, and evolve the user's profile from every scene
// the new cells touched. The sparse index is rebuilt afterwards so the new
// cells are immediately retrievable.
func (e *Engine) IngestTranscript(ctx context.Context, transcript, conversationID, userID string, now time.Time) (*IngestReport, error) {
	turns := ParseTranscript(transcript, now)
	return e.IngestTurns(ctx, turns, conversationID, userID, now)
}

// IngestTurns is IngestTranscript for pre-parsed dialogue turns.
func (e *Engine) IngestTurns(ctx context.Context, turns []types.DialogueTurn, conversationID, userID string, now time.Time) (*IngestReport, error) {
	if now.IsZero() {
		now = time.Now()
	}

	cells, err := e.episodic.ProcessTurns(ctx, turns, conversationID, now)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{CellsCreated: len(cells)}
	touched := make(map[string]*types.MemScene)
	for _, cell := range cells {
		scene, created, err := e.clusterer.Assign(ctx, cell)
		if err != nil {
			return report, err
		}
		if created {
			report.NewScenes++
		} else if _, seen := touched[scene.ID]; !seen {
			report.ScenesUpdated++
		}
		touched[scene.ID] = scene
	}

	if userID != "" {
		for _, scene := range touched {
			conflicts, err := e.evolver.EvolveFromScene(ctx, scene, userID)
			if err != nil {
				return report, err
			}
			report.Conflicts = append(report.Conflicts, conflicts...)
		}
	}

	if len(cells) > 0 {
		if err := e.retriever.RebuildIndex(ctx); err != nil {
			log.Printf("engine: sparse index rebuild failed: %v", err)
		}
	}
	return report, nil
}

// Recall runs the bounded retrieve-verify-rewrite loop for a query.
func (e *Engine) Recall(ctx context.Context, query string, opts RecallOptions) (*Recollection, error) {
	return e.recall.Recall(ctx, query, opts)
}

// Search performs a single hybrid retrieval pass with temporal filtering,
// skipping sufficiency verification.
func (e *Engine) Search(ctx context.Context, query string, k int, now time.Time) ([]*types.RetrievalResult, error) {
	if now.IsZero() {
		now = time.Now()
	}
	results, err := e.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return e.filter.FilterResults(results, now), nil
}

// Answer recalls memories for the query and asks the generator to answer
// from the assembled context alone.
func (e *Engine) Answer(ctx context.Context, query string, opts RecallOptions) (string, *Recollection, error) {
	opts.RequireSufficient = true
	rec, err := e.recall.Recall(ctx, query, opts)
	if err != nil {
		return "", nil, err
	}
	answer, err := e.gen.Complete(ctx, llm.AnswerPrompt(query, rec.Context))
	if err != nil {
		return "", rec, fmt.Errorf("engine: answer generation failed: %w", err)
	}
	return answer, rec, nil
}

// GetProfile returns the stored profile for a user.
func (e *Engine) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	return e.evolver.GetProfile(ctx, userID)
}

// ProfileSummary returns a human-readable rendering of the user's profile,
// or an empty string when no profile exists yet.
func (e *Engine) ProfileSummary(ctx context.Context, userID string) (string, error) {
	profile, err := e.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return profile.Summary(), nil
}

// GetScene returns a scene by ID.
func (e *Engine) GetScene(ctx context.Context, id string) (*types.MemScene, error) {
	return e.store.GetScene(ctx, id)
}

// GetCell returns a cell by ID.
func (e *Engine) GetCell(ctx context.Context, id string) (*types.MemCell, error) {
	return e.store.GetCell(ctx, id)
}

// Stats reports the current size of the memory store.
type Stats struct {
	Cells      int `json:"cells"`
	Scenes     int `json:"scenes"`
	Foresights int `json:"foresights"`
}

// Stats counts the stored cells, scenes, and foresights.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	cells, err := e.store.GetAllCells(ctx)
	if err != nil {
		return nil, err
	}
	scenes, err := e.store.GetAllScenes(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Cells: len(cells), Scenes: len(scenes)}
	for _, c := range cells {
		stats.Foresights += len(c.Foresights)
	}
	return stats, nil
}

// Export returns every stored cell and scene, for backup or inspection.
func (e *Engine) Export(ctx context.Context) ([]*types.MemCell, []*types.MemScene, error) {
	cells, err := e.store.GetAllCells(ctx)
	if err != nil {
		return nil, nil, err
	}
	scenes, err := e.store.GetAllScenes(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cells, scenes, nil
}

// ClearAll wipes the store and resets the sparse index.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.ClearAll(ctx); err != nil {
		return err
	}
	return e.retriever.RebuildIndex(ctx)
}
