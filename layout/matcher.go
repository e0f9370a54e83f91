package layout

import (
	"context"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MatchThreshold is the minimum cosine similarity for a name to resolve to a layout.
const MatchThreshold = 0.7

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Matcher resolves free-form layout names to registered ones by embedding similarity.
type Matcher struct {
	embedder  Embedder
	names     []string
	vectors   [][]float64
	cache     *lru.Cache[string, []float64]
	Threshold float64
}

func NewMatcher(ctx context.Context, embedder Embedder, names []string, cacheSize int) (*Matcher, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if len(names) == 0 {
		return nil, errors.New("no layout names to match against")
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []float64](cacheSize)
	if err != nil {
		return nil, err
	}
	vecs, err := embedder.Embed(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("embed layout names: %w", err)
	}
	if len(vecs) != len(names) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d names", len(vecs), len(names))
	}
	return &Matcher{
		embedder:  embedder,
		names:     append([]string(nil), names...),
		vectors:   vecs,
		cache:     cache,
		Threshold: MatchThreshold,
	}, nil
}

// Match returns the closest layout name and its similarity.
func (m *Matcher) Match(ctx context.Context, text string) (string, float64, error) {
	for _, n := range m.names {
		if n == text {
			return n, 1, nil
		}
	}
	vec, ok := m.cache.Get(text)
	if !ok {
		vecs, err := m.embedder.Embed(ctx, []string{text})
		if err != nil {
			return "", 0, fmt.Errorf("embed %q: %w", text, err)
		}
		if len(vecs) != 1 {
			return "", 0, fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
		}
		vec = vecs[0]
		m.cache.Add(text, vec)
	}

	best, score := -1, math.Inf(-1)
	for i, v := range m.vectors {
		if s := Cosine(vec, v); s > score {
			best, score = i, s
		}
	}
	if best < 0 || score < m.Threshold {
		return "", score, fmt.Errorf("%w: %q must be one of %q", ErrLayoutNotFound, text, m.names)
	}
	return m.names[best], score, nil
}

// Cosine is the cosine similarity of a and b; 0 when either is zero or lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
