// Package types defines the canonical data model for the Evermemos memory
// system. Loosely-shaped collaborator output is converted into these types at
// the boundary; core components never operate on raw maps.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Foresight is a forward-looking inference with a temporal validity window.
// It represents temporary states, plans, or predictions extracted from a
// conversation (e.g. "on a 7-day detox until April 8").
type Foresight struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	TStart     time.Time  `json:"t_start"`           // Start of the validity window (always set)
	TEnd       *time.Time `json:"t_end,omitempty"`   // End of the validity window (nil = open-ended)
	Confidence float64    `json:"confidence"`        // Extraction confidence (0.0-1.0)
	SourceCell string     `json:"source_memcell_id"` // MemCell this foresight was derived from
}

// IsValidAt reports whether the foresight is valid at the given instant.
// The window is inclusive on both ends; a nil TEnd means the foresight
// remains valid for all t >= TStart.
func (f *Foresight) IsValidAt(t time.Time) bool {
	if t.Before(f.TStart) {
		return false
	}
	if f.TEnd != nil && t.After(*f.TEnd) {
		return false
	}
	return true
}

// Metadata provides contextual grounding for a MemCell: where it came from
// and when it was formed.
type Metadata struct {
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	SourceConversationID string    `json:"source_conversation_id"`
	TurnRange            [2]int    `json:"turn_range"` // [start_turn, end_turn] within the source conversation
	ParticipantIDs       []string  `json:"participant_ids,omitempty"`
	Tags                 []string  `json:"tags,omitempty"`
}

// MemCell is the fundamental memory unit: a narrative episode plus its
// atomic facts, foresights, and metadata. Cells are created once by the
// extraction pipeline, receive their embedding before clustering, and are
// immutable afterwards except for the owning-scene reference set by the
// clusterer.
type MemCell struct {
	ID          string      `json:"id"`
	Episode     string      `json:"episode"`                // Third-person narrative summary
	AtomicFacts []string    `json:"atomic_facts,omitempty"` // Discrete, independently verifiable statements
	Foresights  []Foresight `json:"foresights,omitempty"`
	Metadata    Metadata    `json:"metadata"`
	Embedding   []float32   `json:"embedding,omitempty"`
	SceneID     string      `json:"memscene_id,omitempty"` // Owning MemScene, set by the clusterer
}

// NewMemCell creates a MemCell with a fresh ID and creation timestamps.
func NewMemCell(episode string, now time.Time) *MemCell {
	return &MemCell{
		ID:      uuid.NewString(),
		Episode: episode,
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// SearchableText returns the combined text used for embedding and sparse
// indexing: the episode narrative, the atomic facts, and foresight contents.
func (c *MemCell) SearchableText() string {
	parts := make([]string, 0, 2+len(c.Foresights))
	parts = append(parts, c.Episode)
	if len(c.AtomicFacts) > 0 {
		parts = append(parts, strings.Join(c.AtomicFacts, " "))
	}
	for i := range c.Foresights {
		if c.Foresights[i].Content != "" {
			parts = append(parts, c.Foresights[i].Content)
		}
	}
	return strings.Join(parts, " ")
}
