package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateExplicitFactNewAttribute(t *testing.T) {
	p := NewUserProfile("u1")

	conflict := p.UpdateExplicitFact("diet", ExplicitFact{
		Attribute: "diet", Value: "vegetarian", Timestamp: time.Now(), SourceCell: "cell-1",
	})

	assert.Nil(t, conflict)
	assert.Equal(t, "vegetarian", p.ExplicitFacts["diet"].Value)
	assert.Empty(t, p.ConflictHistory)
}

func TestUpdateExplicitFactSameValue(t *testing.T) {
	p := NewUserProfile("u1")
	p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "vegetarian", SourceCell: "cell-1"})

	conflict := p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "vegetarian", SourceCell: "cell-2"})

	assert.Nil(t, conflict)
	assert.Empty(t, p.ConflictHistory)
	// Source is re-stamped even without a conflict.
	assert.Equal(t, "cell-2", p.ExplicitFacts["diet"].SourceCell)
}

func TestUpdateExplicitFactChangedValue(t *testing.T) {
	p := NewUserProfile("u1")
	p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "vegetarian", SourceCell: "cell-jan"})

	conflict := p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "pescatarian", SourceCell: "cell-mar"})

	require.NotNil(t, conflict)
	assert.Equal(t, "vegetarian", conflict.OldValue)
	assert.Equal(t, "pescatarian", conflict.NewValue)
	assert.Equal(t, "cell-jan", conflict.OldSource)
	assert.Equal(t, "cell-mar", conflict.NewSource)
	assert.Equal(t, ResolutionRecency, conflict.Resolution)

	// The new value wins and exactly one audit record exists.
	assert.Equal(t, "pescatarian", p.ExplicitFacts["diet"].Value)
	require.Len(t, p.ConflictHistory, 1)
	assert.Equal(t, conflict.ID, p.ConflictHistory[0].ID)
}

func TestAddSourceSceneIdempotent(t *testing.T) {
	p := NewUserProfile("u1")
	p.AddSourceScene("scene-1")
	p.AddSourceScene("scene-1")
	p.AddSourceScene("scene-2")

	assert.Equal(t, []string{"scene-1", "scene-2"}, p.SourceScenes)
}

func TestTraitSimilarTo(t *testing.T) {
	tests := []struct {
		name string
		a, b ImplicitTrait
		want bool
	}{
		{
			name: "different types never match",
			a:    ImplicitTrait{Type: TraitPreference, Description: "enjoys italian food"},
			b:    ImplicitTrait{Type: TraitHabit, Description: "enjoys italian food"},
			want: false,
		},
		{
			name: "high overlap matches",
			a:    ImplicitTrait{Type: TraitPreference, Description: "enjoys italian food"},
			b:    ImplicitTrait{Type: TraitPreference, Description: "really enjoys italian food"},
			want: true,
		},
		{
			name: "low overlap does not match",
			a:    ImplicitTrait{Type: TraitPreference, Description: "enjoys italian food"},
			b:    ImplicitTrait{Type: TraitPreference, Description: "prefers morning workouts"},
			want: false,
		},
		{
			name: "empty description never matches",
			a:    ImplicitTrait{Type: TraitPreference, Description: ""},
			b:    ImplicitTrait{Type: TraitPreference, Description: "enjoys italian food"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.SimilarTo(&tt.b))
			assert.Equal(t, tt.want, tt.b.SimilarTo(&tt.a), "similarity must be symmetric")
		})
	}
}

func TestProfileSummary(t *testing.T) {
	p := NewUserProfile("u1")
	p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "vegetarian"})
	p.UpdateExplicitFact("diet", ExplicitFact{Attribute: "diet", Value: "pescatarian"})
	p.ImplicitTraits = append(p.ImplicitTraits, ImplicitTrait{
		Type: TraitHabit, Description: "runs every morning", Strength: 0.7,
	})

	s := p.Summary()
	assert.Contains(t, s, "diet: pescatarian")
	assert.Contains(t, s, "[habit] runs every morning (strength: 0.70)")
	assert.Contains(t, s, "vegetarian -> pescatarian (recency)")
}
