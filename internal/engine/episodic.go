package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/pkg/types"
)

// Default segmentation bounds.
const (
	DefaultSlidingWindowSize     = 5
	DefaultTopicShiftThreshold   = 0.7
	DefaultShortConversationSize = 10

	// Segments at or below this many turns skip the extraction call and
	// fall back to a literal summary.
	simpleSegmentMaxTurns = 3

	defaultForesightConfidence = 0.8
	ongoingForesightDays       = 30
)

// Transcript line forms, tried in order per line.
var (
	timestampedTurnRe = regexp.MustCompile(`^\[([^\]]+)\]\s*(\w+):\s*(.+)$`)
	plainTurnRe       = regexp.MustCompile(`^(\w+):\s*(.+)$`)
	markdownTurnRe    = regexp.MustCompile(`^\*\*(\w+)\*\*:\s*(.+)$`)
)

const turnTimestampLayout = "2006-01-02 15:04"

// EpisodicProcessor turns raw conversation transcripts into MemCells: it
// parses turns, detects topic boundaries with a sliding window, and extracts
// a narrative episode, atomic facts, and foresights per segment.
type EpisodicProcessor struct {
	gen      llm.TextGenerator
	embedder llm.EmbeddingGenerator

	windowSize     int
	shiftThreshold float64
	shortMaxTurns  int
}

// EpisodicConfig configures segmentation. Zero values select the defaults.
type EpisodicConfig struct {
	SlidingWindowSize   int
	TopicShiftThreshold float64
	ShortConversation   int
}

// NewEpisodicProcessor creates a processor over the given collaborators.
func NewEpisodicProcessor(gen llm.TextGenerator, embedder llm.EmbeddingGenerator, cfg EpisodicConfig) *EpisodicProcessor {
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = DefaultSlidingWindowSize
	}
	if cfg.TopicShiftThreshold <= 0 {
		cfg.TopicShiftThreshold = DefaultTopicShiftThreshold
	}
	if cfg.ShortConversation <= 0 {
		cfg.ShortConversation = DefaultShortConversationSize
	}
	return &EpisodicProcessor{
		gen:            gen,
		embedder:       embedder,
		windowSize:     cfg.SlidingWindowSize,
		shiftThreshold: cfg.TopicShiftThreshold,
		shortMaxTurns:  cfg.ShortConversation,
	}
}

// ParseTranscript converts a raw transcript into dialogue turns. Three line
// forms are recognized: "[2024-04-01 14:30] user: text", "user: text", and
// "**user**: text". Lines matching no form are treated as continuations of
// the previous turn. Speakers are lowercased and turn IDs are sequential.
func ParseTranscript(raw string, now time.Time) []types.DialogueTurn {
	var turns []types.DialogueTurn
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var speaker, content string
		ts := now
		if m := timestampedTurnRe.FindStringSubmatch(line); m != nil {
			if parsed, err := time.Parse(turnTimestampLayout, m[1]); err == nil {
				ts = parsed
			}
			speaker, content = m[2], m[3]
		} else if m := markdownTurnRe.FindStringSubmatch(line); m != nil {
			speaker, content = m[1], m[2]
		} else if m := plainTurnRe.FindStringSubmatch(line); m != nil {
			speaker, content = m[1], m[2]
		} else {
			if len(turns) > 0 {
				turns[len(turns)-1].Content += " " + line
			}
			continue
		}

		turns = append(turns, types.DialogueTurn{
			TurnID:    len(turns),
			Speaker:   strings.ToLower(speaker),
			Content:   strings.TrimSpace(content),
			Timestamp: ts,
		})
	}
	return turns
}

// DetectBoundaries returns the start index of each segment. Short
// conversations form a single segment; longer ones are scanned with a
// sliding window and split where the detector reports a confident shift.
func (p *EpisodicProcessor) DetectBoundaries(ctx context.Context, turns []types.DialogueTurn) []int {
	if len(turns) == 0 {
		return nil
	}
	boundaries := []int{0}
	if len(turns) <= p.shortMaxTurns {
		return boundaries
	}

	for i := p.windowSize; i < len(turns); i++ {
		// Trailing window ending at turn i, the candidate boundary.
		window := turns[i-p.windowSize : i+1]
		if p.isTopicShift(ctx, window) {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

func (p *EpisodicProcessor) isTopicShift(ctx context.Context, window []types.DialogueTurn) bool {
	raw, err := p.gen.CompleteWithSystem(ctx, llm.SystemTopicShift, llm.TopicShiftPrompt(formatTurns(window)))
	if err != nil {
		log.Printf("engine: topic shift detection failed, keeping segment: %v", err)
		return false
	}
	resp, err := llm.ParseTopicShift(raw)
	if err != nil {
		log.Printf("engine: topic shift verdict malformed, keeping segment: %v", err)
		return false
	}
	return resp.IsTopicShift && resp.Confidence >= p.shiftThreshold
}

// ProcessTranscript parses and processes a raw transcript in one call.
func (p *EpisodicProcessor) ProcessTranscript(ctx context.Context, raw, conversationID string, now time.Time) ([]*types.MemCell, error) {
	turns := ParseTranscript(raw, now)
	return p.ProcessTurns(ctx, turns, conversationID, now)
}

// ProcessTurns segments the conversation and extracts one MemCell per
// segment. Returned cells carry embeddings and are ready for clustering.
func (p *EpisodicProcessor) ProcessTurns(ctx context.Context, turns []types.DialogueTurn, conversationID string, now time.Time) ([]*types.MemCell, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	boundaries := p.DetectBoundaries(ctx, turns)
	var cells []*types.MemCell
	for i, start := range boundaries {
		end := len(turns)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		cell, err := p.extractCell(ctx, turns[start:end], conversationID, now)
		if err != nil {
			return cells, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

// extractCell builds one MemCell from a segment. Very short segments take a
// literal path with no extraction call; longer segments go through the
// extraction collaborator, falling back to the literal path on failure.
func (p *EpisodicProcessor) extractCell(ctx context.Context, segment []types.DialogueTurn, conversationID string, now time.Time) (*types.MemCell, error) {
	var cell *types.MemCell
	if len(segment) <= simpleSegmentMaxTurns {
		cell = p.literalCell(segment, now)
	} else {
		resp := p.extract(ctx, segment, now)
		if resp == nil {
			cell = p.literalCell(segment, now)
		} else {
			cell = types.NewMemCell(resp.Episode, now)
			cell.AtomicFacts = resp.AtomicFacts
			cell.Metadata.Tags = resp.Tags
			for _, f := range resp.Foresights {
				cell.Foresights = append(cell.Foresights, resolveForesight(f, cell.ID, now))
			}
		}
	}

	cell.Metadata.SourceConversationID = conversationID
	cell.Metadata.TurnRange = [2]int{segment[0].TurnID, segment[len(segment)-1].TurnID}
	cell.Metadata.ParticipantIDs = participants(segment)

	embedding, err := p.embedder.Embed(ctx, cell.SearchableText())
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed memcell: %w", err)
	}
	cell.Embedding = embedding
	return cell, nil
}

func (p *EpisodicProcessor) extract(ctx context.Context, segment []types.DialogueTurn, now time.Time) *llm.SegmentExtractionResponse {
	raw, err := p.gen.CompleteWithSystem(ctx, llm.SystemSegmentExtraction, llm.SegmentExtractionPrompt(formatTurns(segment), now))
	if err != nil {
		log.Printf("engine: segment extraction failed, using literal summary: %v", err)
		return nil
	}
	resp, err := llm.ParseSegmentExtraction(raw)
	if err != nil {
		log.Printf("engine: segment extraction malformed, using literal summary: %v", err)
		return nil
	}
	return resp
}

// literalCell summarizes a segment without an extraction call: the episode
// restates each turn, the atomic facts are the user's utterances.
func (p *EpisodicProcessor) literalCell(segment []types.DialogueTurn, now time.Time) *types.MemCell {
	lines := make([]string, len(segment))
	var facts []string
	for i, t := range segment {
		lines[i] = fmt.Sprintf("%s said: %s", capitalize(t.Speaker), t.Content)
		if t.Speaker == "user" {
			facts = append(facts, t.Content)
		}
	}
	cell := types.NewMemCell(strings.Join(lines, " "), now)
	cell.AtomicFacts = facts
	cell.Metadata.Tags = []string{"short_conversation"}
	return cell
}

// resolveForesight converts duration hints into a concrete validity window.
// An explicit expiry date wins; fixed durations run for the stated number of
// days, ongoing ones for thirty, and indefinite ones stay open-ended.
func resolveForesight(f llm.ForesightResponse, sourceCellID string, now time.Time) types.Foresight {
	start := now
	if f.StartOffsetDays != nil {
		start = now.AddDate(0, 0, int(*f.StartOffsetDays))
	}

	var end *time.Time
	if f.ExpiryDate != "" {
		if d, err := time.Parse("2006-01-02", f.ExpiryDate); err == nil {
			e := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
			end = &e
		}
	}
	if end == nil {
		switch f.DurationType {
		case "fixed":
			if f.DurationValue != nil {
				e := start.AddDate(0, 0, int(*f.DurationValue))
				end = &e
			}
		case "ongoing":
			e := start.AddDate(0, 0, ongoingForesightDays)
			end = &e
		}
		// "indefinite" and anything unrecognized stay open-ended.
	}

	return types.Foresight{
		ID:         uuid.NewString(),
		Content:    f.Content,
		TStart:     start,
		TEnd:       end,
		Confidence: defaultForesightConfidence,
		SourceCell: sourceCellID,
	}
}

func formatTurns(turns []types.DialogueTurn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Speaker + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func participants(turns []types.DialogueTurn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			out = append(out, t.Speaker)
		}
	}
	return out
}
