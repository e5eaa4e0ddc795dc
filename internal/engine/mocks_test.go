package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"

	"github.com/evermemos/evermemos/internal/llm"
)

// stubGenerator routes completions through per-call hooks. Unset hooks
// return a canned reply so collaterally exercised prompts never fail the
// test under construction.
type stubGenerator struct {
	completeFn   func(ctx context.Context, prompt string) (string, error)
	withSystemFn func(ctx context.Context, system, prompt string) (string, error)
	calls        []string
}

func (g *stubGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls = append(g.calls, prompt)
	if g.completeFn != nil {
		return g.completeFn(ctx, prompt)
	}
	return "ok", nil
}

func (g *stubGenerator) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	g.calls = append(g.calls, prompt)
	if g.withSystemFn != nil {
		return g.withSystemFn(ctx, system, prompt)
	}
	return "ok", nil
}

func (g *stubGenerator) GetModel() string { return "stub" }

var _ llm.TextGenerator = (*stubGenerator)(nil)

// systemRouter builds a withSystemFn that dispatches on the system prompt,
// falling back to a generic reply for unrouted calls.
func systemRouter(routes map[string]string) func(context.Context, string, string) (string, error) {
	return func(_ context.Context, system, _ string) (string, error) {
		if reply, ok := routes[system]; ok {
			return reply, nil
		}
		return "ok", nil
	}
}

// stubEmbedder returns fixed vectors for known texts and a deterministic
// token-hash vector otherwise, so unrelated texts land far apart.
type stubEmbedder struct {
	vectors map[string][]float32
	dim     int
	err     error
}

func newStubEmbedder(dim int) *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32), dim: dim}
}

func (e *stubEmbedder) set(text string, vec []float32) { e.vectors[text] = vec }

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if vec, ok := e.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return hashVector(text, e.dim), nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *stubEmbedder) GetModel() string { return "stub-embed" }

var _ llm.EmbeddingGenerator = (*stubEmbedder)(nil)

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%dim] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

var errStub = errors.New("stub failure")
