package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trait type constants for ImplicitTrait.Type.
const (
	TraitPreference  = "preference"
	TraitHabit       = "habit"
	TraitPersonality = "personality"
)

// ResolutionRecency marks a conflict resolved by last-write-wins.
const ResolutionRecency = "recency"

// ExplicitFact is a verifiable, attribute-keyed profile entry. Exactly one
// current fact exists per attribute; updates replace in place with the
// conflict recorded separately.
type ExplicitFact struct {
	Attribute  string    `json:"attribute"`
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	SourceCell string    `json:"source_memcell_id"`
	Confidence float64   `json:"confidence"`
}

// ImplicitTrait is an inferred preference, habit, or personality trait.
// Traits accumulate evidence and merge with similar traits of the same type.
type ImplicitTrait struct {
	Type        string    `json:"trait_type"` // preference, habit, personality
	Description string    `json:"description"`
	Evidence    []string  `json:"evidence,omitempty"` // Supporting scene/cell IDs
	Strength    float64   `json:"strength"`           // 0.0-1.0
	LastUpdated time.Time `json:"last_updated"`
}

// SimilarTo reports whether two traits describe the same thing: identical
// type and a word-overlap ratio above 0.5, where the ratio is the size of
// the word-set intersection divided by the smaller word-set size.
func (t *ImplicitTrait) SimilarTo(other *ImplicitTrait) bool {
	if t.Type != other.Type {
		return false
	}

	a := wordSet(t.Description)
	b := wordSet(other.Description)
	if len(a) == 0 || len(b) == 0 {
		return false
	}

	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}

	denom := len(a)
	if len(b) < denom {
		denom = len(b)
	}
	return float64(common)/float64(denom) > 0.5
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// ConflictRecord is an append-only audit entry for a detected value change
// on an explicit fact. Records are never edited or removed once created.
type ConflictRecord struct {
	ID         string    `json:"id"`
	Attribute  string    `json:"attribute"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	OldSource  string    `json:"old_source"`
	NewSource  string    `json:"new_source"`
	Resolution string    `json:"resolution"` // e.g. "recency"
	ResolvedAt time.Time `json:"resolved_at"`
}

// UserProfile is the per-user aggregate of explicit facts, implicit traits,
// and the append-only conflict history, together with the scenes that have
// contributed evidence.
type UserProfile struct {
	ID              string                  `json:"id"`
	UserID          string                  `json:"user_id"`
	ExplicitFacts   map[string]ExplicitFact `json:"explicit_facts"`
	ImplicitTraits  []ImplicitTrait         `json:"implicit_traits,omitempty"`
	ConflictHistory []ConflictRecord        `json:"conflict_history,omitempty"`
	LastUpdated     time.Time               `json:"last_updated"`
	SourceScenes    []string                `json:"source_memscenes,omitempty"`
}

// NewUserProfile creates an empty profile for the given user.
func NewUserProfile(userID string) *UserProfile {
	return &UserProfile{
		ID:            uuid.NewString(),
		UserID:        userID,
		ExplicitFacts: make(map[string]ExplicitFact),
		LastUpdated:   time.Now(),
	}
}

// UpdateExplicitFact applies the recency-aware update policy for a single
// attribute. An unset attribute is set directly; an identical value only
// re-stamps timestamp and source; a different value appends exactly one
// ConflictRecord to the audit log and then overwrites unconditionally.
// Returns the conflict record when one was created, nil otherwise.
func (p *UserProfile) UpdateExplicitFact(attribute string, fact ExplicitFact) *ConflictRecord {
	var conflict *ConflictRecord

	if old, ok := p.ExplicitFacts[attribute]; ok && old.Value != fact.Value {
		conflict = &ConflictRecord{
			ID:         uuid.NewString(),
			Attribute:  attribute,
			OldValue:   old.Value,
			NewValue:   fact.Value,
			OldSource:  old.SourceCell,
			NewSource:  fact.SourceCell,
			Resolution: ResolutionRecency,
			ResolvedAt: time.Now(),
		}
		p.ConflictHistory = append(p.ConflictHistory, *conflict)
	}

	p.ExplicitFacts[attribute] = fact
	p.LastUpdated = time.Now()
	return conflict
}

// AddSourceScene records a contributing scene id. The operation is
// idempotent: a scene already present is not added twice.
func (p *UserProfile) AddSourceScene(sceneID string) {
	for _, id := range p.SourceScenes {
		if id == sceneID {
			return
		}
	}
	p.SourceScenes = append(p.SourceScenes, sceneID)
}

// Summary renders the profile as a human-readable text block: explicit
// facts, traits grouped with their strengths, and the most recent conflicts.
func (p *UserProfile) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "User Profile (ID: %s)\n", p.UserID)
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n\nEXPLICIT FACTS:\n")

	if len(p.ExplicitFacts) == 0 {
		b.WriteString("  (none)\n")
	} else {
		attrs := make([]string, 0, len(p.ExplicitFacts))
		for attr := range p.ExplicitFacts {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		for _, attr := range attrs {
			fmt.Fprintf(&b, "  - %s: %s\n", attr, p.ExplicitFacts[attr].Value)
		}
	}

	b.WriteString("\nIMPLICIT TRAITS:\n")
	if len(p.ImplicitTraits) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for i := range p.ImplicitTraits {
			t := &p.ImplicitTraits[i]
			fmt.Fprintf(&b, "  - [%s] %s (strength: %.2f)\n", t.Type, t.Description, t.Strength)
		}
	}

	if len(p.ConflictHistory) > 0 {
		b.WriteString("\nCONFLICT HISTORY:\n")
		recent := p.ConflictHistory
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for i := range recent {
			c := &recent[i]
			fmt.Fprintf(&b, "  - %s: %s -> %s (%s)\n", c.Attribute, c.OldValue, c.NewValue, c.Resolution)
		}
	}

	return b.String()
}
