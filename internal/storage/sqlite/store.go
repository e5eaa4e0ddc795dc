// Package sqlite provides a SQLite implementation of the storage interfaces
// using the pure-Go modernc.org/sqlite driver.
//
// Cells, scenes, and profiles are persisted as JSON documents keyed by ID.
// Embeddings ride inside the JSON payload; Go's JSON encoder emits the
// shortest float32 representation that round-trips exactly, which preserves
// the read-after-write fidelity the engine depends on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// Schema contains the SQL statements to create the database schema.
const Schema = `
CREATE TABLE IF NOT EXISTS memcells (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memscenes (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a SQLite database at the given DSN, configures WAL mode,
// and creates the schema. Use ":memory:" for an ephemeral database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// UpsertCell creates or updates a cell.
func (s *Store) UpsertCell(ctx context.Context, cell *types.MemCell) error {
	if cell == nil || cell.ID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(cell)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal cell: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memcells (id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, cell.ID, string(payload), cell.Metadata.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert cell %s: %w", cell.ID, err)
	}
	return nil
}

// GetCell retrieves a cell by ID.
func (s *Store) GetCell(ctx context.Context, id string) (*types.MemCell, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM memcells WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get cell %s: %w", id, err)
	}

	var cell types.MemCell
	if err := json.Unmarshal([]byte(payload), &cell); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal cell %s: %w", id, err)
	}
	return &cell, nil
}

// GetCells retrieves multiple cells by ID, preserving input order and
// skipping missing IDs.
func (s *Store) GetCells(ctx context.Context, ids []string) ([]*types.MemCell, error) {
	out := make([]*types.MemCell, 0, len(ids))
	for _, id := range ids {
		cell, err := s.GetCell(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}

// GetAllCells returns every stored cell ordered by ascending ID.
func (s *Store) GetAllCells(ctx context.Context) ([]*types.MemCell, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM memcells ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cells []*types.MemCell
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan cell row: %w", err)
		}
		var cell types.MemCell
		if err := json.Unmarshal([]byte(payload), &cell); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal cell: %w", err)
		}
		cells = append(cells, &cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return cells, nil
}

// SearchCells performs a brute-force cosine similarity scan over all cell
// embeddings. SQLite has no native vector index; at the scale of a per-user
// memory corpus a linear scan is adequate, matching the in-memory backend.
// Exact ties rank by ascending cell ID.
func (s *Store) SearchCells(ctx context.Context, query []float32, limit int) ([]storage.ScoredCell, error) {
	if len(query) == 0 {
		return nil, storage.ErrInvalidInput
	}

	cells, err := s.GetAllCells(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]storage.ScoredCell, 0, len(cells))
	for _, cell := range cells {
		if len(cell.Embedding) == 0 {
			continue
		}
		scored = append(scored, storage.ScoredCell{Cell: cell, Score: cosine(query, cell.Embedding)})
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
func (s *Store) DeleteCell(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memcells WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete cell %s: %w", id, err)
	}
	return checkAffected(res)
}

// UpsertScene creates or updates a scene.
func (s *Store) UpsertScene(ctx context.Context, scene *types.MemScene) error {
	if scene == nil || scene.ID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal scene: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memscenes (id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, scene.ID, string(payload), scene.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert scene %s: %w", scene.ID, err)
	}
	return nil
}

// GetScene retrieves a scene by ID.
func (s *Store) GetScene(ctx context.Context, id string) (*types.MemScene, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM memscenes WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get scene %s: %w", id, err)
	}

	var scene types.MemScene
	if err := json.Unmarshal([]byte(payload), &scene); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal scene %s: %w", id, err)
	}
	return &scene, nil
}

// GetAllScenes returns every stored scene ordered by ascending ID.
func (s *Store) GetAllScenes(ctx context.Context) ([]*types.MemScene, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM memscenes ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list scenes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scenes []*types.MemScene
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan scene row: %w", err)
		}
		var scene types.MemScene
		if err := json.Unmarshal([]byte(payload), &scene); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal scene: %w", err)
		}
		scenes = append(scenes, &scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return scenes, nil
}

// DeleteScene removes a scene by ID.
func (s *Store) DeleteScene(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memscenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete scene %s: %w", id, err)
	}
	return checkAffected(res)
}

// GetProfile retrieves the profile for a user.
func (s *Store) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM profiles WHERE user_id = ?", userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get profile %s: %w", userID, err)
	}

	var profile types.UserProfile
	if err := json.Unmarshal([]byte(payload), &profile); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal profile %s: %w", userID, err)
	}
	return &profile, nil
}

// SaveProfile creates or replaces the profile for its user.
func (s *Store) SaveProfile(ctx context.Context, profile *types.UserProfile) error {
	if profile == nil || profile.UserID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, profile.UserID, string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to save profile %s: %w", profile.UserID, err)
	}
	return nil
}

// ClearAll removes all cells, scenes, and profiles.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, table := range []string{"memcells", "memscenes", "profiles"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlite: failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

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
