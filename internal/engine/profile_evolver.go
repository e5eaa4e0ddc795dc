package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// ProfileEvolver converts scene evidence into explicit-fact and
// implicit-trait updates on a per-user profile. Extraction model failures
// degrade to empty candidate sets so profile state is never fabricated.
type ProfileEvolver struct {
	profiles storage.ProfileStore
	gen      llm.TextGenerator
}

// NewProfileEvolver creates an evolver over the given profile store.
func NewProfileEvolver(profiles storage.ProfileStore, gen llm.TextGenerator) *ProfileEvolver {
	return &ProfileEvolver{profiles: profiles, gen: gen}
}

// EvolveFromScene updates the user's profile from a scene's aggregated
// content and returns the conflicts produced during this call. The profile
// is created lazily on first use.
//
// Explicit facts follow last-write-wins: a changed value appends exactly one
// ConflictRecord with resolution "recency" and then overwrites
// unconditionally. Implicit traits merge into an existing trait of the same
// type when their descriptions overlap by more than half, otherwise append.
func (e *ProfileEvolver) EvolveFromScene(ctx context.Context, scene *types.MemScene, userID string) ([]types.ConflictRecord, error) {
	if scene == nil {
		return nil, fmt.Errorf("engine: cannot evolve profile from nil scene")
	}

	profile, err := e.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	extraction := e.extract(ctx, scene)
	now := time.Now()

	sourceCell := ""
	if len(scene.MemCellIDs) > 0 {
		sourceCell = scene.MemCellIDs[len(scene.MemCellIDs)-1]
	}

	var conflicts []types.ConflictRecord
	for _, fc := range extraction.ExplicitFacts {
		fact := types.ExplicitFact{
			Attribute:  fc.Attribute,
			Value:      fc.Value,
			Timestamp:  now,
			SourceCell: sourceCell,
			Confidence: fc.Confidence,
		}
		if conflict := profile.UpdateExplicitFact(fact.Attribute, fact); conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	for _, tc := range extraction.ImplicitTraits {
		trait := types.ImplicitTrait{
			Type:        tc.Type,
			Description: tc.Description,
			Evidence:    []string{scene.ID},
			Strength:    tc.Strength,
			LastUpdated: now,
		}
		e.mergeTrait(profile, trait, now)
	}

	profile.AddSourceScene(scene.ID)
	profile.LastUpdated = now

	if err := e.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("engine: failed to save profile %s: %w", userID, err)
	}
	return conflicts, nil
}

// GetProfile returns the user's profile, creating an empty one if none has
// been persisted yet. The lazily created profile is not saved until the
// first evolution call.
func (e *ProfileEvolver) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	return e.loadOrCreate(ctx, userID)
}

func (e *ProfileEvolver) loadOrCreate(ctx context.Context, userID string) (*types.UserProfile, error) {
	profile, err := e.profiles.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewUserProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load profile %s: %w", userID, err)
	}
	return profile, nil
}

// extract runs the profile extraction prompt against the scene. Any model
// or parse failure yields an empty extraction.
func (e *ProfileEvolver) extract(ctx context.Context, scene *types.MemScene) *llm.ProfileExtractionResponse {
	raw, err := e.gen.CompleteWithSystem(ctx, llm.SystemProfileExtraction, llm.ProfileExtractionPrompt(scene.Theme, scene.Summary))
	if err != nil {
		log.Printf("engine: profile extraction failed for scene %s: %v", scene.ID, err)
		return &llm.ProfileExtractionResponse{}
	}

	extraction, err := llm.ParseProfileExtraction(raw)
	if err != nil {
		log.Printf("engine: profile extraction returned malformed output for scene %s: %v", scene.ID, err)
		return &llm.ProfileExtractionResponse{}
	}
	return extraction
}

func (e *ProfileEvolver) mergeTrait(profile *types.UserProfile, trait types.ImplicitTrait, now time.Time) {
	for i := range profile.ImplicitTraits {
		existing := &profile.ImplicitTraits[i]
		if existing.SimilarTo(&trait) {
			existing.Strength = (existing.Strength + trait.Strength) / 2
			existing.Evidence = append(existing.Evidence, trait.Evidence...)
			existing.LastUpdated = now
			return
		}
	}
	profile.ImplicitTraits = append(profile.ImplicitTraits, trait)
}
