// Package llm provides LLM integration for the memory pipeline: episode
// synthesis, structured extraction, profile analysis, and the sufficiency
// verification loop. It includes strict JSON-only prompt templates and
// response parsers that work with Ollama and OpenAI models.
package llm

import (
	"fmt"
	"strings"
	"time"
)

// SystemSegmentExtraction instructs the model to convert dialogue into a
// structured memory unit in one pass.
const SystemSegmentExtraction = `You are a memory system that converts dialogues into structured memories.
Extract key information accurately and completely.`

// SystemTopicShift instructs the model to judge semantic continuity in a
// sliding dialogue window.
const SystemTopicShift = `You are a semantic boundary detector for conversational AI.
Your job is to analyze dialogue turns and detect when a significant topic shift occurs.

A topic shift happens when:
1. The conversation moves to a completely different subject
2. There's a significant change in context (e.g., from work to personal life)
3. A new task or goal is introduced
4. Time or location context changes significantly

You should NOT flag as topic shifts:
1. Natural follow-up questions on the same topic
2. Clarifications or elaborations
3. Related sub-topics within the same theme`

// SystemProfileExtraction instructs the model to mine profile evidence from
// consolidated scene summaries.
const SystemProfileExtraction = `You are a profile analyzer. Extract user information from scene summaries.

EXPLICIT FACTS: Verifiable attributes like:
- Demographics (age, location, occupation)
- Time-varying measurements (weight, health metrics)
- Stated preferences that are factual

IMPLICIT TRAITS: Inferences about:
- Preferences and tastes
- Habits and routines
- Personality characteristics
- Communication style

Be precise and include only information with clear evidence.`

// SystemSufficiency instructs the model to judge whether retrieved context
// can answer a query.
const SystemSufficiency = `You are a context sufficiency evaluator. Your job is to determine
if the provided context contains enough information to adequately answer the query.

Consider:
1. Is all necessary information present?
2. Are there gaps that would prevent a complete answer?
3. Is the information clear and unambiguous?`

// SystemQueryRewrite instructs the model to produce targeted follow-up
// queries when retrieval fell short.
const SystemQueryRewrite = `You are a query rewriting specialist. When initial retrieval is insufficient,
you generate targeted follow-up queries to fill information gaps.

Strategies:
1. Pivot Entity Association: Focus on related entities mentioned
2. Temporal Calculation: Query about time-related information
3. Aspect Decomposition: Break the query into sub-questions
4. Contextual Expansion: Broaden scope to capture missing context`

// jsonOnlySuffix is appended to every prompt that expects structured output.
const jsonOnlySuffix = "\n\nIMPORTANT: Respond ONLY with valid JSON. No markdown, no code blocks, no explanations."

// SegmentExtractionPrompt builds the combined narrative-plus-extraction
// prompt for one dialogue segment. The model returns the episode narrative,
// atomic facts, foresights with duration hints, and tags in a single call.
func SegmentExtractionPrompt(dialogue string, now time.Time) string {
	return fmt.Sprintf(`Analyze this dialogue and provide BOTH a narrative summary AND structured extraction.

DIALOGUE:
%s

CURRENT TIME: %s

Respond with JSON containing:
{
    "episode": "A clear, third-person narrative summary of the dialogue. Resolve all pronouns and references.",
    "atomic_facts": [
        "Discrete, verifiable statement 1",
        "Discrete, verifiable statement 2"
    ],
    "foresights": [
        {
            "content": "Any plan/intention/temporary state mentioned",
            "duration_type": "fixed|ongoing|indefinite",
            "duration_value": null,
            "start_offset_days": 0,
            "expiry_date": "YYYY-MM-DD if determinable from context, null otherwise"
        }
    ],
    "tags": ["tag1", "tag2"]
}

Rules:
- Episode should be 2-4 sentences, third-person perspective
- Atomic facts: each independently verifiable
- Foresights: include duration if mentioned (e.g., "10 days" = fixed, 10)
- Convert relative times to actual dates using CURRENT TIME as reference
- Tags: high-level categories (health, work, travel, etc.)`+jsonOnlySuffix,
		dialogue, now.Format("2006-01-02 15:04"))
}

// TopicShiftPrompt asks whether the last turn in the window breaks from the
// preceding turns.
func TopicShiftPrompt(window string) string {
	return fmt.Sprintf(`Analyze this conversation window and determine if the LAST turn represents a significant topic shift from the previous turns.

%s

Analyze the semantic continuity and respond with JSON:
{
    "is_topic_shift": true/false,
    "confidence": 0.0-1.0,
    "reason": "brief explanation"
}`+jsonOnlySuffix, window)
}

// ThemePrompt asks for a concise theme title covering the given episodes.
func ThemePrompt(episodes []string) string {
	limit := episodes
	if len(limit) > 5 {
		limit = limit[:5]
	}
	return fmt.Sprintf(`Given these episode summaries, provide a concise theme title (2-5 words):

%s

Theme title:`, strings.Join(limit, "\n---\n"))
}

// SceneSummaryPrompt asks for an updated scene summary that folds in a new
// episode.
func SceneSummaryPrompt(currentSummary, newEpisode string) string {
	return fmt.Sprintf(`Update this scene summary to incorporate new information.

CURRENT SUMMARY:
%s

NEW EPISODE:
%s

Provide an updated, cohesive summary that captures all key information:`, currentSummary, newEpisode)
}

// ProfileExtractionPrompt asks for explicit facts and implicit traits
// evidenced by a scene.
func ProfileExtractionPrompt(theme, summary string) string {
	return fmt.Sprintf(`Analyze this scene and extract user profile information.

SCENE THEME: %s

SCENE SUMMARY:
%s

Extract and respond with JSON:
{
    "explicit_facts": [
        {
            "attribute": "attribute name",
            "value": "attribute value",
            "confidence": 0.0-1.0
        }
    ],
    "implicit_traits": [
        {
            "type": "preference|habit|personality",
            "description": "description of the trait",
            "strength": 0.0-1.0
        }
    ]
}`+jsonOnlySuffix, theme, summary)
}

// SufficiencyPrompt asks whether the context answers the query.
func SufficiencyPrompt(query, context string) string {
	return fmt.Sprintf(`Evaluate if this context is sufficient to answer the query.

QUERY: %s

CONTEXT:
%s

Respond with JSON:
{
    "is_sufficient": true/false,
    "confidence": 0.0-1.0,
    "reasoning": "explanation of your assessment",
    "missing_info": ["list", "of", "missing", "information"] or []
}`+jsonOnlySuffix, query, context)
}

// QueryRewritePrompt asks for follow-up queries that target the named gaps
// while avoiding queries already tried.
func QueryRewritePrompt(originalQuery string, missingInfo, previousQueries []string) string {
	missing := "General information gaps"
	if len(missingInfo) > 0 {
		missing = "- " + strings.Join(missingInfo, "\n- ")
	}
	previous := "None"
	if len(previousQueries) > 0 {
		previous = "- " + strings.Join(previousQueries, "\n- ")
	}
	return fmt.Sprintf(`Generate 2-3 targeted follow-up queries to fill the information gaps.

ORIGINAL QUERY: %s

MISSING INFORMATION:
%s

PREVIOUS QUERIES (avoid similar):
%s

Use strategies like:
- Pivot Entity Association: Focus on related entities
- Temporal Calculation: Query about time-related info
- Aspect Decomposition: Break into sub-questions

Respond with JSON:
{
    "queries": ["query 1", "query 2", "query 3"],
    "strategies_used": ["strategy for query 1", "strategy for query 2", "strategy for query 3"]
}`+jsonOnlySuffix, originalQuery, missing, previous)
}

// AnswerPrompt asks for a grounded answer from the recalled context.
func AnswerPrompt(query, context string) string {
	return fmt.Sprintf(`Based on the following memory context, please answer the user's question.

MEMORY CONTEXT:
%s

QUESTION: %s

Answer based only on the provided context. If the context doesn't contain enough information,
say so clearly. Be concise and accurate.`, context, query)
}
