package layout

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const induction = `{
  "functional_keys": ["Opening"],
  "Opening": {
    "template_id": 1,
    "slides": [1],
    "content_schema": {"main title": {"type": "text", "data": ["Old Title"], "suggested_characters": 20}}
  },
  "Bullets": {
    "template_id": 2,
    "slides": [2, 3],
    "content_schema": {
      "title": {"type": "text", "description": "slide title", "data": "Agenda", "suggested_characters": 10},
      "bullets": {"type": "text", "data": ["a", "b"], "suggested_characters": 10},
      "figure": {"type": "image", "data": ["old.png"]}
    },
    "variants": [{"slide_id": 3, "data": {"bullets": ["a", "b", "c", "d"]}}]
  }
}`

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := ParseRegistry([]byte(induction))
	require.NoError(t, err)
	return r
}

func proposal(t *testing.T, s string) Proposal {
	t.Helper()
	p, err := ParseProposal([]byte(s))
	require.NoError(t, err)
	return p
}

func TestParseRegistry_KeepsOrder(t *testing.T) {
	r := mustRegistry(t)
	assert.Equal(t, []string{"Opening", "Bullets"}, r.Names())
	assert.Equal(t, []string{"Opening"}, r.FunctionalKeys)

	l, err := r.Get("Bullets")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "bullets", "figure"}, l.ContentSchema().Names())
	assert.Contains(t, r.Overviews()[1], "bullets (text, 2 items)")

	_, err = r.Get("Closing")
	assert.ErrorIs(t, err, ErrLayoutNotFound)
}

func TestParseRegistry_Errors(t *testing.T) {
	_, err := ParseRegistry([]byte(`{"functional_keys": []}`))
	assert.Error(t, err)
	_, err = ParseRegistry([]byte(`{"X": {"template_id": 1, "content_schema": {"a": {"type": "video"}}}}`))
	assert.Error(t, err)
}

func TestSchema_RoundTripKeepsOrder(t *testing.T) {
	var s Schema
	require.NoError(t, json.Unmarshal([]byte(`{"z": {"type": "text"}, "a": {"type": "image"}}`), &s))
	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.True(t, strings.Index(string(out), `"z"`) < strings.Index(string(out), `"a"`))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fig.png"), []byte("png"), 0o644))
	l, err := mustRegistry(t).Get("Bullets")
	require.NoError(t, err)

	ok := proposal(t, `{"title": {"data": ["Plan"]}, "bullets": {"data": ["one", ""]}, "figure": {"data": ["/elsewhere/fig.png"]}}`)
	require.NoError(t, l.Validate(ok, 1.5, dir))
	assert.Equal(t, []any{filepath.Join(dir, "fig.png")}, ok["figure"]["data"])

	cases := map[string]string{
		"missing":  `{"title": {"data": ["Plan"]}, "bullets": {"data": []}}`,
		"no data":  `{"title": {"text": "Plan"}, "bullets": {"data": []}, "figure": {"data": []}}`,
		"unknown":  `{"title": {"data": []}, "bullets": {"data": []}, "figure": {"data": []}, "footer": {"data": []}}`,
		"too long": `{"title": {"data": ["a much longer title"]}, "bullets": {"data": []}, "figure": {"data": []}}`,
		"not text": `{"title": {"data": [3]}, "bullets": {"data": []}, "figure": {"data": []}}`,
		"no image": `{"title": {"data": []}, "bullets": {"data": []}, "figure": {"data": ["nope.png"]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			err := l.Validate(proposal(t, body), 1.5, dir)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestValidate_LengthFactorScalesLimit(t *testing.T) {
	l, err := mustRegistry(t).Get("Bullets")
	require.NoError(t, err)
	p := `{"title": {"data": ["twelve chars"]}, "bullets": {"data": []}, "figure": {"data": []}}`
	assert.Error(t, l.Validate(proposal(t, p), 1.0, ""))
	assert.NoError(t, l.Validate(proposal(t, p), 1.5, ""))
}

func TestSlideIDAndOldData_FollowVariants(t *testing.T) {
	l, err := mustRegistry(t).Get("Bullets")
	require.NoError(t, err)

	few := proposal(t, `{"title": {"data": "x"}, "bullets": {"data": ["1", "2"]}, "figure": {"data": ["f"]}}`)
	assert.Equal(t, 2, l.SlideID(few))
	assert.Equal(t, []any{"a", "b"}, l.OldData(few)["bullets"])

	many := proposal(t, `{"title": {"data": "x"}, "bullets": {"data": ["1", "2", "3", "4"]}, "figure": {"data": ["f"]}}`)
	assert.Equal(t, 3, l.SlideID(many))
	assert.Equal(t, []any{"a", "b", "c", "d"}, l.OldData(many)["bullets"])
	assert.Equal(t, "Agenda", l.OldData(many)["title"])
}

func TestProposalItems_DropsFalsy(t *testing.T) {
	p := proposal(t, `{"a": {"data": ["x", "", null, 0, false, "y"]}, "b": {"data": "solo"}}`)
	assert.Equal(t, []any{"x", "y"}, p.Items("a"))
	assert.Equal(t, []any{"solo"}, p.Items("b"))
	assert.Empty(t, p.Items("missing"))
}

type tableEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float64
	calls int
}

func (e *tableEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := e.vecs[t]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestMatcher(t *testing.T) {
	emb := &tableEmbedder{vecs: map[string][]float64{
		"Title Slide":   {1, 0, 0},
		"Bullet List":   {0, 1, 0},
		"Bullet points": {0.1, 0.95, 0.1},
	}}
	m, err := NewMatcher(context.Background(), emb, []string{"Title Slide", "Bullet List"}, 8)
	require.NoError(t, err)

	name, score, err := m.Match(context.Background(), "Bullet points")
	require.NoError(t, err)
	assert.Equal(t, "Bullet List", name)
	assert.Greater(t, score, MatchThreshold)

	_, _, err = m.Match(context.Background(), "Bullet points")
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)

	name, _, err = m.Match(context.Background(), "Title Slide")
	require.NoError(t, err)
	assert.Equal(t, "Title Slide", name)
	assert.Equal(t, 2, emb.calls)

	_, _, err = m.Match(context.Background(), "Chart")
	assert.ErrorIs(t, err, ErrLayoutNotFound)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 2}))
}
