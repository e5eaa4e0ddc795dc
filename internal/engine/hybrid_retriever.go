package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// Default retrieval parameters.
const (
	DefaultRRFK           = 60
	DefaultTopKRetrieval  = 10
	DefaultTopKScenes     = 5
	DefaultSceneCacheSize = 128
)

// ScoredScene pairs a scene with its aggregated retrieval score.
type ScoredScene struct {
	Scene *types.MemScene
	Score float64
}

// HybridRetriever fuses dense vector search and sparse BM25 ranking over
// atomic facts via Reciprocal Rank Fusion, then aggregates fused scores up
// to the owning scenes.
//
// The sparse index is a corpus snapshot: call RebuildIndex after ingestion.
// Scene lookups during aggregation go through an LRU cache to avoid
// refetching hot scenes on every query.
type HybridRetriever struct {
	store      storage.Store
	embedder   llm.EmbeddingGenerator
	index      *BM25Index
	sceneCache *lru.Cache[string, *types.MemScene]
	rrfK       int
	topK       int
	topKScenes int
}

// RetrieverConfig tunes the retriever. Zero values select defaults.
type RetrieverConfig struct {
	RRFK           int
	TopKRetrieval  int
	TopKScenes     int
	SceneCacheSize int
}

// NewHybridRetriever creates a retriever over the given store and embedder.
func NewHybridRetriever(store storage.Store, embedder llm.EmbeddingGenerator, cfg RetrieverConfig) (*HybridRetriever, error) {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.TopKRetrieval <= 0 {
		cfg.TopKRetrieval = DefaultTopKRetrieval
	}
	if cfg.TopKScenes <= 0 {
		cfg.TopKScenes = DefaultTopKScenes
	}
	if cfg.SceneCacheSize <= 0 {
		cfg.SceneCacheSize = DefaultSceneCacheSize
	}

	cache, err := lru.New[string, *types.MemScene](cfg.SceneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create scene cache: %w", err)
	}

	return &HybridRetriever{
		store:      store,
		embedder:   embedder,
		sceneCache: cache,
		rrfK:       cfg.RRFK,
		topK:       cfg.TopKRetrieval,
		topKScenes: cfg.TopKScenes,
	}, nil
}

// RebuildIndex snapshots the full cell corpus into a fresh BM25 index and
// invalidates the scene cache. Callers invoke this after ingestion; staleness
// between ingestion and rebuild is expected.
func (r *HybridRetriever) RebuildIndex(ctx context.Context) error {
	cells, err := r.store.GetAllCells(ctx)
	if err != nil {
		return fmt.Errorf("engine: failed to load cells for index rebuild: %w", err)
	}
	r.index = NewBM25Index(cells)
	r.sceneCache.Purge()
	return nil
}

// Retrieve runs both retrieval branches for the query and fuses the ranked
// lists. Each branch contributes 1/(K+rank) per unit it ranks; units found
// by both branches sum both contributions. Results are sorted by fused score
// descending, exact ties by ascending cell ID, truncated to k.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, k int) ([]*types.RetrievalResult, error) {
	if k <= 0 {
		k = r.topK
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed query: %w", err)
	}

	dense, err := r.store.SearchCells(ctx, queryEmbedding, 2*k)
	if err != nil {
		return nil, fmt.Errorf("engine: dense retrieval failed: %w", err)
	}

	if r.index == nil {
		if err := r.RebuildIndex(ctx); err != nil {
			return nil, err
		}
	}
	sparse := r.index.Search(query, 2*k)

	fused := r.fuse(dense, sparse)

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].MemCell.ID < fused[j].MemCell.ID
	})

	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

func (r *HybridRetriever) fuse(dense, sparse []storage.ScoredCell) []*types.RetrievalResult {
	byID := make(map[string]*types.RetrievalResult)

	for rank, sc := range dense {
		res := byID[sc.Cell.ID]
		if res == nil {
			res = &types.RetrievalResult{MemCell: sc.Cell}
			byID[sc.Cell.ID] = res
		}
		res.DenseScore = sc.Score
		res.RRFScore += 1.0 / float64(r.rrfK+rank+1)
	}

	for rank, sc := range sparse {
		res := byID[sc.Cell.ID]
		if res == nil {
			res = &types.RetrievalResult{MemCell: sc.Cell}
			byID[sc.Cell.ID] = res
		}
		res.SparseScore = sc.Score
		res.RRFScore += 1.0 / float64(r.rrfK+rank+1)
	}

	results := make([]*types.RetrievalResult, 0, len(byID))
	for _, res := range byID {
		results = append(results, res)
	}
	return results
}

// SelectScenes aggregates fused scores up to the owning scenes. A scene's
// score is the maximum fused score among its member results. The top k
// scenes are returned with their objects, ranked by that maximum; exact
// ties rank by ascending scene ID.
func (r *HybridRetriever) SelectScenes(ctx context.Context, results []*types.RetrievalResult, k int) ([]ScoredScene, error) {
	if k <= 0 {
		k = r.topKScenes
	}

	sceneScores := make(map[string]float64)
	for _, res := range results {
		sceneID := res.MemCell.SceneID
		if sceneID == "" {
			continue
		}
		if res.RRFScore > sceneScores[sceneID] {
			sceneScores[sceneID] = res.RRFScore
		}
	}

	scored := make([]ScoredScene, 0, len(sceneScores))
	for sceneID, score := range sceneScores {
		scene, err := r.getScene(ctx, sceneID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredScene{Scene: scene, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Scene.ID < scored[j].Scene.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// getScene resolves a scene through the LRU cache. Callers receive a copy
// so mutating a returned scene cannot corrupt the cached entry.
func (r *HybridRetriever) getScene(ctx context.Context, id string) (*types.MemScene, error) {
	if scene, ok := r.sceneCache.Get(id); ok {
		return copyCachedScene(scene), nil
	}
	scene, err := r.store.GetScene(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("engine: failed to load scene %s: %w", id, err)
	}
	r.sceneCache.Add(id, scene)
	return copyCachedScene(scene), nil
}

func copyCachedScene(s *types.MemScene) *types.MemScene {
	out := *s
	out.MemCellIDs = append([]string(nil), s.MemCellIDs...)
	out.Centroid = append([]float32(nil), s.Centroid...)
	return &out
}
