package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForesightIsValidAt(t *testing.T) {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 8, 23, 59, 59, 0, time.UTC)

	bounded := Foresight{Content: "7-day detox", TStart: start, TEnd: &end}
	open := Foresight{Content: "learning Spanish", TStart: start}

	tests := []struct {
		name      string
		foresight *Foresight
		at        time.Time
		want      bool
	}{
		{"before start", &bounded, start.Add(-time.Hour), false},
		{"at start", &bounded, start, true},
		{"inside window", &bounded, time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC), true},
		{"at end", &bounded, end, true},
		{"after end", &bounded, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), false},
		{"open-ended before start", &open, start.Add(-time.Minute), false},
		{"open-ended far future", &open, start.AddDate(10, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.foresight.IsValidAt(tt.at))
		})
	}
}

func TestMemCellSearchableText(t *testing.T) {
	cell := NewMemCell("The user discussed marathon training.", time.Now())
	cell.AtomicFacts = []string{"The user runs daily.", "The user signed up for a marathon."}
	cell.Foresights = []Foresight{{Content: "Training until October", TStart: time.Now()}}

	text := cell.SearchableText()
	assert.Contains(t, text, "marathon training")
	assert.Contains(t, text, "runs daily")
	assert.Contains(t, text, "Training until October")
}

func TestMemCellSearchableTextEpisodeOnly(t *testing.T) {
	cell := NewMemCell("A short exchange about the weather.", time.Now())
	assert.Equal(t, "A short exchange about the weather.", cell.SearchableText())
}

func TestAbsorbCentroidStreamingMean(t *testing.T) {
	now := time.Now()
	c1 := NewMemCell("first", now)
	c1.Embedding = []float32{1, 0, 1}

	scene := NewMemScene("theme", "summary", c1, now)
	assert.Equal(t, []float32{1, 0, 1}, scene.Centroid)

	// Second member: centroid becomes the mean of both embeddings.
	scene.MemCellIDs = append(scene.MemCellIDs, "c2")
	scene.AbsorbCentroid([]float32{0, 1, 1})
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 1}, scene.Centroid, 1e-6)

	// Third member.
	scene.MemCellIDs = append(scene.MemCellIDs, "c3")
	scene.AbsorbCentroid([]float32{2, 2, 1})
	assert.InDeltaSlice(t, []float32{1, 1, 1}, scene.Centroid, 1e-6)
}

func TestNewMemSceneCopiesEmbedding(t *testing.T) {
	now := time.Now()
	cell := NewMemCell("first", now)
	cell.Embedding = []float32{1, 2, 3}

	scene := NewMemScene("theme", "summary", cell, now)
	cell.Embedding[0] = 99

	// Mutating the cell's embedding must not alias the centroid.
	assert.Equal(t, float32(1), scene.Centroid[0])
}
