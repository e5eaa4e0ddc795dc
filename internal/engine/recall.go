package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/evermemos/evermemos/internal/llm"
	"github.com/evermemos/evermemos/pkg/types"
)

// Default sufficiency loop bounds.
const (
	DefaultMaxQueryRewrites = 3
	DefaultEpisodeBudget    = 8
)

// RecallOptions controls a single recall invocation.
type RecallOptions struct {
	// Now is the instant used for temporal validity filtering.
	// Zero selects time.Now().
	Now time.Time

	// RequireSufficient enables the verify/rewrite loop. When false the
	// loop stops after one retrieval pass.
	RequireSufficient bool

	// MaxEpisodes bounds the accumulated context. Zero selects the
	// configured episode budget.
	MaxEpisodes int
}

// Recollection is the outcome of a recall: the accumulated ranked results,
// the reasoning context assembled from them, and loop telemetry.
type Recollection struct {
	Query       string
	Time        time.Time
	Iterations  int
	QueriesUsed []string
	Results     []*types.RetrievalResult
	Scenes      []ScoredScene
	Context     string
}

// Episodes returns the episode narratives of the accumulated results.
func (r *Recollection) Episodes() []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.MemCell.Episode
	}
	return out
}

// ValidForesights returns every temporally valid foresight across results.
func (r *Recollection) ValidForesights() []types.Foresight {
	var out []types.Foresight
	for _, res := range r.Results {
		out = append(out, res.TemporalValidForesights...)
	}
	return out
}

// AtomicFacts returns the deduplicated atomic facts across results,
// preserving first-seen order.
func (r *Recollection) AtomicFacts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, res := range r.Results {
		for _, fact := range res.MemCell.AtomicFacts {
			if !seen[fact] {
				seen[fact] = true
				out = append(out, fact)
			}
		}
	}
	return out
}

// SufficiencyLoop is the bounded retrieve-verify-rewrite controller. Each
// iteration retrieves with the latest query variant, filters foresights by
// temporal validity, merges results into the accumulated set (first-seen
// score kept), and either stops or asks the verifier whether the context
// answers the original query. Insufficient verdicts trigger query rewriting,
// bounded by the rewrite budget.
type SufficiencyLoop struct {
	retriever     *HybridRetriever
	filter        TemporalValidityFilter
	gen           llm.TextGenerator
	maxRewrites   int
	episodeBudget int
}

// NewSufficiencyLoop creates a loop controller. A negative maxRewrites
// selects the default; zero is honored and disables rewriting. A
// non-positive episodeBudget selects the default.
func NewSufficiencyLoop(retriever *HybridRetriever, gen llm.TextGenerator, maxRewrites, episodeBudget int) *SufficiencyLoop {
	if maxRewrites < 0 {
		maxRewrites = DefaultMaxQueryRewrites
	}
	if episodeBudget <= 0 {
		episodeBudget = DefaultEpisodeBudget
	}
	return &SufficiencyLoop{
		retriever:     retriever,
		gen:           gen,
		maxRewrites:   maxRewrites,
		episodeBudget: episodeBudget,
	}
}

// Recall performs reconstructive recollection for the query.
func (l *SufficiencyLoop) Recall(ctx context.Context, query string, opts RecallOptions) (*Recollection, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	budget := opts.MaxEpisodes
	if budget <= 0 {
		budget = l.episodeBudget
	}

	queries := []string{query}
	var accumulated []*types.RetrievalResult
	seen := make(map[string]bool)
	iterations := 0

	for iteration := 0; iteration <= l.maxRewrites; iteration++ {
		iterations = iteration + 1
		current := queries[len(queries)-1]

		results, err := l.retriever.Retrieve(ctx, current, 0)
		if err != nil {
			return nil, fmt.Errorf("engine: recall retrieval failed: %w", err)
		}

		l.filter.FilterResults(results, now)

		// First-seen wins: units already accumulated keep their original
		// scores even when a later variant re-ranks them.
		for _, res := range results {
			if !seen[res.MemCell.ID] {
				seen[res.MemCell.ID] = true
				accumulated = append(accumulated, res)
			}
		}

		sort.Slice(accumulated, func(i, j int) bool {
			if accumulated[i].RRFScore != accumulated[j].RRFScore {
				return accumulated[i].RRFScore > accumulated[j].RRFScore
			}
			return accumulated[i].MemCell.ID < accumulated[j].MemCell.ID
		})
		if len(accumulated) > budget {
			accumulated = accumulated[:budget]
		}

		if !opts.RequireSufficient {
			break
		}

		assembled := BuildContext(accumulated)
		verdict := l.verify(ctx, query, assembled)
		if verdict.IsSufficient {
			break
		}
		if iteration == l.maxRewrites {
			break
		}

		rewrites := l.rewrite(ctx, query, verdict.MissingInfo, queries)
		if len(rewrites) == 0 {
			break
		}
		queries = append(queries, rewrites...)
	}

	scenes, err := l.retriever.SelectScenes(ctx, accumulated, 0)
	if err != nil {
		return nil, err
	}

	return &Recollection{
		Query:       query,
		Time:        now,
		Iterations:  iterations,
		QueriesUsed: queries,
		Results:     accumulated,
		Scenes:      scenes,
		Context:     BuildContext(accumulated),
	}, nil
}

// verify asks the sufficiency collaborator whether the context answers the
// query. Any failure fails open: the loop must never hang on an unreliable
// verifier.
func (l *SufficiencyLoop) verify(ctx context.Context, query, assembled string) *llm.SufficiencyResponse {
	raw, err := l.gen.CompleteWithSystem(ctx, llm.SystemSufficiency, llm.SufficiencyPrompt(query, assembled))
	if err != nil {
		log.Printf("engine: sufficiency verification failed, assuming sufficient: %v", err)
		return &llm.SufficiencyResponse{IsSufficient: true, Confidence: 0.5}
	}
	verdict, err := llm.ParseSufficiency(raw)
	if err != nil {
		log.Printf("engine: sufficiency verdict malformed, assuming sufficient: %v", err)
		return &llm.SufficiencyResponse{IsSufficient: true, Confidence: 0.5}
	}
	return verdict
}

// rewrite asks for follow-up query variants targeting the reported gaps.
// On failure it falls back to two template expansions of the original query.
// A successful call that declines to propose variants is returned as-is:
// an empty list from a working rewriter means the query space is exhausted
// and the loop should stop.
func (l *SufficiencyLoop) rewrite(ctx context.Context, query string, missing, previous []string) []string {
	raw, err := l.gen.CompleteWithSystem(ctx, llm.SystemQueryRewrite, llm.QueryRewritePrompt(query, missing, previous))
	if err == nil {
		if resp, perr := llm.ParseQueryRewrite(raw); perr == nil {
			return resp.Queries
		}
	}
	log.Printf("engine: query rewrite failed, using fallback expansions")
	return []string{
		query + " more details",
		"background information for " + query,
	}
}

// BuildContext assembles the reasoning context from ranked results: each
// episode narrative, its currently active foresights, and up to five key
// facts, separated by dividers.
func BuildContext(results []*types.RetrievalResult) string {
	var sections []string
	for i, res := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "[Episode %d]\n%s", i+1, res.MemCell.Episode)

		if len(res.TemporalValidForesights) > 0 {
			b.WriteString("\n\nActive Foresights:")
			for _, f := range res.TemporalValidForesights {
				b.WriteString("\n  - " + f.Content)
			}
		}

		if len(res.MemCell.AtomicFacts) > 0 {
			facts := res.MemCell.AtomicFacts
			if len(facts) > 5 {
				facts = facts[:5]
			}
			b.WriteString("\n\nKey Facts:")
			for _, fact := range facts {
				b.WriteString("\n  - " + fact)
			}
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n---\n\n")
}
