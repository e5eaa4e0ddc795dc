// Package storage provides composable storage interfaces for the Evermemos
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Backends must preserve
// embeddings bit-for-bit: a vector read back is identical to the vector
// written (the clusterer and retriever depend on this fidelity).
package storage

import (
	"context"
	"errors"

	"github.com/evermemos/evermemos/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ScoredCell pairs a MemCell with a similarity score from vector search.
type ScoredCell struct {
	Cell  *types.MemCell
	Score float64
}

// MemCellStore provides CRUD and similarity search over memory cells.
type MemCellStore interface {
	// UpsertCell creates or updates a cell (upsert semantics).
	UpsertCell(ctx context.Context, cell *types.MemCell) error

	// GetCell retrieves a cell by ID. Returns ErrNotFound if absent.
	GetCell(ctx context.Context, id string) (*types.MemCell, error)

	// GetCells retrieves multiple cells by ID, preserving input order.
	// Missing IDs are skipped rather than failing the batch.
	GetCells(ctx context.Context, ids []string) ([]*types.MemCell, error)

	// GetAllCells returns every stored cell. Used for sparse-index rebuilds.
	GetAllCells(ctx context.Context) ([]*types.MemCell, error)

	// SearchCells performs vector similarity search over cell embeddings,
	// returning up to limit results ranked by descending similarity.
	SearchCells(ctx context.Context, query []float32, limit int) ([]ScoredCell, error)

	// DeleteCell removes a cell by ID. Returns ErrNotFound if absent.
	DeleteCell(ctx context.Context, id string) error
}

// SceneStore provides CRUD over memory scenes.
type SceneStore interface {
	// UpsertScene creates or updates a scene (upsert semantics).
	UpsertScene(ctx context.Context, scene *types.MemScene) error

	// GetScene retrieves a scene by ID. Returns ErrNotFound if absent.
	GetScene(ctx context.Context, id string) (*types.MemScene, error)

	// GetAllScenes returns every stored scene ordered by ascending ID.
	// The deterministic order is what makes clusterer tie-breaks
	// reproducible.
	GetAllScenes(ctx context.Context) ([]*types.MemScene, error)

	// DeleteScene removes a scene by ID. Returns ErrNotFound if absent.
	DeleteScene(ctx context.Context, id string) error
}

// ProfileStore persists per-user profiles.
type ProfileStore interface {
	// GetProfile retrieves the profile for a user. Returns ErrNotFound
	// when the user has no profile yet.
	GetProfile(ctx context.Context, userID string) (*types.UserProfile, error)

	// SaveProfile creates or replaces the profile for its user.
	SaveProfile(ctx context.Context, profile *types.UserProfile) error
}

// Store composes the full persistence surface consumed by the engine.
type Store interface {
	MemCellStore
	SceneStore
	ProfileStore

	// ClearAll removes all cells, scenes, and profiles.
	ClearAll(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
