package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrMalformedResponse is returned when an LLM response contains no
// parseable JSON object. Callers decide whether to fail open or closed.
var ErrMalformedResponse = errors.New("malformed LLM response")

// SegmentExtractionResponse is the combined narrative + extraction result
// for one dialogue segment.
type SegmentExtractionResponse struct {
	Episode     string              `json:"episode"`
	AtomicFacts []string            `json:"atomic_facts"`
	Foresights  []ForesightResponse `json:"foresights"`
	Tags        []string            `json:"tags"`
}

// ForesightResponse is a forward-looking inference with duration hints as
// emitted by the LLM. Temporal bounds are resolved by the caller.
type ForesightResponse struct {
	Content         string   `json:"content"`
	DurationType    string   `json:"duration_type"` // fixed, ongoing, indefinite
	DurationValue   *float64 `json:"duration_value"`
	StartOffsetDays *float64 `json:"start_offset_days"`
	ExpiryDate      string   `json:"expiry_date"`
}

// TopicShiftResponse is the boundary detector verdict for one window.
type TopicShiftResponse struct {
	IsTopicShift bool    `json:"is_topic_shift"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// FactResponse is a single explicit fact candidate.
type FactResponse struct {
	Attribute  string  `json:"attribute"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// TraitResponse is a single implicit trait candidate.
type TraitResponse struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

// ProfileExtractionResponse is the complete profile extraction result for
// one scene.
type ProfileExtractionResponse struct {
	ExplicitFacts  []FactResponse  `json:"explicit_facts"`
	ImplicitTraits []TraitResponse `json:"implicit_traits"`
}

// SufficiencyResponse is the verifier verdict on retrieved context.
type SufficiencyResponse struct {
	IsSufficient bool     `json:"is_sufficient"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	MissingInfo  []string `json:"missing_info"`
}

// QueryRewriteResponse holds follow-up queries for the retrieval loop.
type QueryRewriteResponse struct {
	Queries        []string `json:"queries"`
	StrategiesUsed []string `json:"strategies_used"`
}

// ExtractJSON extracts the first complete JSON object from a string that may
// contain extra text. This handles cases where LLMs add explanations before
// or after the JSON despite instructions.
func ExtractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, return as-is and let parser fail
	}

	// Find the matching closing brace, tracking string and escape state so
	// braces inside string values are not counted.
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // no complete JSON found, return as-is
}

// ParseSegmentExtraction parses the combined segment extraction JSON.
// Foresights with empty content are dropped; an empty episode is an error
// since the narrative is the backbone of the memory unit.
func ParseSegmentExtraction(raw string) (*SegmentExtractionResponse, error) {
	clean := ExtractJSON(raw)

	var resp SegmentExtractionResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: segment extraction: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(resp.Episode) == "" {
		return nil, fmt.Errorf("%w: segment extraction returned empty episode", ErrMalformedResponse)
	}

	valid := resp.Foresights[:0]
	for _, f := range resp.Foresights {
		if strings.TrimSpace(f.Content) == "" {
			log.Printf("response_parser: skipping foresight with empty content")
			continue
		}
		valid = append(valid, f)
	}
	resp.Foresights = valid
	return &resp, nil
}

// ParseTopicShift parses the boundary detector verdict.
func ParseTopicShift(raw string) (*TopicShiftResponse, error) {
	clean := ExtractJSON(raw)

	var resp TopicShiftResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: topic shift: %v", ErrMalformedResponse, err)
	}
	return &resp, nil
}

// ParseProfileExtraction parses profile extraction JSON and filters out
// invalid entries. Facts without an attribute and traits without a
// description are skipped rather than failing the batch; out-of-range
// confidence and strength values are skipped likewise.
func ParseProfileExtraction(raw string) (*ProfileExtractionResponse, error) {
	clean := ExtractJSON(raw)

	var resp ProfileExtractionResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: profile extraction: %v", ErrMalformedResponse, err)
	}

	validFacts := resp.ExplicitFacts[:0]
	for _, f := range resp.ExplicitFacts {
		if strings.TrimSpace(f.Attribute) == "" {
			log.Printf("response_parser: skipping fact with empty attribute")
			continue
		}
		if f.Confidence < 0.0 || f.Confidence > 1.0 {
			log.Printf("response_parser: skipping fact %q with invalid confidence %f", f.Attribute, f.Confidence)
			continue
		}
		validFacts = append(validFacts, f)
	}
	resp.ExplicitFacts = validFacts

	validTraits := resp.ImplicitTraits[:0]
	for _, t := range resp.ImplicitTraits {
		if strings.TrimSpace(t.Description) == "" {
			log.Printf("response_parser: skipping trait with empty description")
			continue
		}
		if t.Strength < 0.0 || t.Strength > 1.0 {
			log.Printf("response_parser: skipping trait %q with invalid strength %f", t.Description, t.Strength)
			continue
		}
		validTraits = append(validTraits, t)
	}
	resp.ImplicitTraits = validTraits

	return &resp, nil
}

// ParseSufficiency parses the verifier verdict.
func ParseSufficiency(raw string) (*SufficiencyResponse, error) {
	clean := ExtractJSON(raw)

	var resp SufficiencyResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: sufficiency: %v", ErrMalformedResponse, err)
	}
	return &resp, nil
}

// ParseQueryRewrite parses rewritten queries, keeping at most three
// non-empty entries.
func ParseQueryRewrite(raw string) (*QueryRewriteResponse, error) {
	clean := ExtractJSON(raw)

	var resp QueryRewriteResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: query rewrite: %v", ErrMalformedResponse, err)
	}

	valid := resp.Queries[:0]
	for _, q := range resp.Queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		valid = append(valid, q)
		if len(valid) == 3 {
			break
		}
	}
	resp.Queries = valid
	return &resp, nil
}

// CleanTheme normalizes a theme title completion by stripping quotes and
// surrounding whitespace.
func CleanTheme(raw string) string {
	theme := strings.TrimSpace(raw)
	theme = strings.ReplaceAll(theme, `"`, "")
	theme = strings.ReplaceAll(theme, "'", "")
	return strings.TrimSpace(theme)
}
