// Package memory provides an in-process implementation of the storage
// interfaces. It is the default backend for tests and single-process use;
// durable deployments use the sqlite or postgres backends.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// Store is a map-backed storage.Store. All methods deep-copy on the way in
// and out so callers can never alias internal state.
type Store struct {
	mu       sync.RWMutex
	cells    map[string]*types.MemCell
	scenes   map[string]*types.MemScene
	profiles map[string]*types.UserProfile
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		cells:    make(map[string]*types.MemCell),
		scenes:   make(map[string]*types.MemScene),
		profiles: make(map[string]*types.UserProfile),
	}
}

// UpsertCell creates or updates a cell.
func (s *Store) UpsertCell(_ context.Context, cell *types.MemCell) error {
	if cell == nil || cell.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[cell.ID] = copyCell(cell)
	return nil
}

// GetCell retrieves a cell by ID.
func (s *Store) GetCell(_ context.Context, id string) (*types.MemCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCell(cell), nil
}

// GetCells retrieves multiple cells by ID, preserving input order and
// skipping missing IDs.
func (s *Store) GetCells(_ context.Context, ids []string) ([]*types.MemCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MemCell, 0, len(ids))
	for _, id := range ids {
		if cell, ok := s.cells[id]; ok {
			out = append(out, copyCell(cell))
		}
	}
	return out, nil
}

// GetAllCells returns every stored cell ordered by ascending ID.
func (s *Store) GetAllCells(_ context.Context) ([]*types.MemCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MemCell, 0, len(s.cells))
	for _, cell := range s.cells {
		out = append(out, copyCell(cell))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SearchCells ranks cells by cosine similarity to the query vector.
// Exact ties rank by ascending cell ID for reproducibility.
func (s *Store) SearchCells(_ context.Context, query []float32, limit int) ([]storage.ScoredCell, error) {
	if len(query) == 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]storage.ScoredCell, 0, len(s.cells))
	for _, cell := range s.cells {
		if len(cell.Embedding) == 0 {
			continue
		}
		scored = append(scored, storage.ScoredCell{
			Cell:  copyCell(cell),
			Score: cosine(query, cell.Embedding),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Cell.ID < scored[j].Cell.ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// DeleteCell removes a cell by ID.
func (s *Store) DeleteCell(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.cells, id)
	return nil
}

// UpsertScene creates or updates a scene.
func (s *Store) UpsertScene(_ context.Context, scene *types.MemScene) error {
	if scene == nil || scene.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[scene.ID] = copyScene(scene)
	return nil
}

// GetScene retrieves a scene by ID.
func (s *Store) GetScene(_ context.Context, id string) (*types.MemScene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyScene(scene), nil
}

// GetAllScenes returns every stored scene ordered by ascending ID.
func (s *Store) GetAllScenes(_ context.Context) ([]*types.MemScene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MemScene, 0, len(s.scenes))
	for _, scene := range s.scenes {
		out = append(out, copyScene(scene))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteScene removes a scene by ID.
func (s *Store) DeleteScene(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.scenes, id)
	return nil
}

// GetProfile retrieves the profile for a user.
func (s *Store) GetProfile(_ context.Context, userID string) (*types.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyProfile(profile), nil
}

// SaveProfile creates or replaces the profile for its user.
func (s *Store) SaveProfile(_ context.Context, profile *types.UserProfile) error {
	if profile == nil || profile.UserID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = copyProfile(profile)
	return nil
}

// ClearAll removes all cells, scenes, and profiles.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = make(map[string]*types.MemCell)
	s.scenes = make(map[string]*types.MemScene)
	s.profiles = make(map[string]*types.UserProfile)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
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

func copyCell(c *types.MemCell) *types.MemCell {
	out := *c
	out.AtomicFacts = append([]string(nil), c.AtomicFacts...)
	out.Foresights = append([]types.Foresight(nil), c.Foresights...)
	out.Embedding = append([]float32(nil), c.Embedding...)
	out.Metadata.ParticipantIDs = append([]string(nil), c.Metadata.ParticipantIDs...)
	out.Metadata.Tags = append([]string(nil), c.Metadata.Tags...)
	return &out
}

func copyScene(s *types.MemScene) *types.MemScene {
	out := *s
	out.MemCellIDs = append([]string(nil), s.MemCellIDs...)
	out.Centroid = append([]float32(nil), s.Centroid...)
	return &out
}

func copyProfile(p *types.UserProfile) *types.UserProfile {
	out := *p
	out.ExplicitFacts = make(map[string]types.ExplicitFact, len(p.ExplicitFacts))
	for k, v := range p.ExplicitFacts {
		out.ExplicitFacts[k] = v
	}
	out.ImplicitTraits = make([]types.ImplicitTrait, len(p.ImplicitTraits))
	for i := range p.ImplicitTraits {
		t := p.ImplicitTraits[i]
		t.Evidence = append([]string(nil), t.Evidence...)
		out.ImplicitTraits[i] = t
	}
	out.ConflictHistory = append([]types.ConflictRecord(nil), p.ConflictHistory...)
	out.SourceScenes = append([]string(nil), p.SourceScenes...)
	return &out
}
