package types

import "time"

// DialogueTurn is a single turn in a conversation transcript.
type DialogueTurn struct {
	TurnID    int       `json:"turn_id"`
	Speaker   string    `json:"speaker"` // "user", "assistant", or a participant id
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RetrievalResult pairs a retrieved MemCell with its per-branch scores and
// the subset of its foresights valid at query time. Results are constructed
// fresh per retrieval call and never persisted.
type RetrievalResult struct {
	MemCell                 *MemCell    `json:"memcell"`
	MemScene                *MemScene   `json:"memscene,omitempty"`
	DenseScore              float64     `json:"dense_score"`
	SparseScore             float64     `json:"sparse_score"`
	RRFScore                float64     `json:"rrf_score"`
	TemporalValidForesights []Foresight `json:"temporal_valid_foresights,omitempty"`
}
