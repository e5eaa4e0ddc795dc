package types

import (
	"time"

	"github.com/google/uuid"
)

// MemScene is a thematic cluster of related MemCells. The centroid is the
// elementwise arithmetic mean of all current member embeddings; the clusterer
// maintains it as a streaming mean so the invariant holds regardless of
// insertion order.
type MemScene struct {
	ID         string    `json:"id"`
	Theme      string    `json:"theme"`   // Short descriptive theme title
	Summary    string    `json:"summary"` // Aggregated summary of member episodes
	MemCellIDs []string  `json:"memcell_ids"`
	Centroid   []float32 `json:"centroid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewMemScene creates a scene seeded with a single member cell. The centroid
// starts as a copy of the cell's embedding.
func NewMemScene(theme, summary string, cell *MemCell, now time.Time) *MemScene {
	centroid := make([]float32, len(cell.Embedding))
	copy(centroid, cell.Embedding)

	return &MemScene{
		ID:         uuid.NewString(),
		Theme:      theme,
		Summary:    summary,
		MemCellIDs: []string{cell.ID},
		Centroid:   centroid,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AbsorbCentroid updates the centroid with a new member embedding using the
// streaming mean: centroid' = (centroid*(n-1) + embedding) / n, where n is
// the member count after the append.
func (s *MemScene) AbsorbCentroid(embedding []float32) {
	n := float32(len(s.MemCellIDs))
	for i := range s.Centroid {
		s.Centroid[i] = (s.Centroid[i]*(n-1) + embedding[i]) / n
	}
}
