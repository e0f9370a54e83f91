package pptgen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
	"auto_slide_generator/layout"
	"auto_slide_generator/presentation"
)

const testInduction = `{
  "functional_keys": [],
  "Bullets": {
    "template_id": 1,
    "content_schema": {
      "title": {"type": "text", "data": ["Agenda"], "suggested_characters": 20},
      "bullets": {"type": "text", "data": ["a"], "suggested_characters": 40}
    }
  }
}`

const threeSlideOutline = `[
  {"title": "Intro", "description": "d1", "indexs": {"Background": ["Problem"]}},
  {"title": "Method", "description": "d2", "indexs": {"Method": ["Setup"]}},
  {"title": "Wrap", "description": "d3", "indexs": {"Background": ["Prior Work"]}}
]`

var roleDefs = map[string]string{
	"planner":         "system_prompt: planner\nreturn_json: true\nargs: [num_slides, document_overview, output_schema, layouts]\ntemplate: \"{{.num_slides}} {{json .document_overview}}\"\n",
	"layout_selector": "system_prompt: layout_selector\nargs: [layout_description, available_layouts]\ntemplate: \"{{.layout_description}}\"\n",
	"editor":          "system_prompt: editor\nargs: [schema, outline, metadata, text]\ntemplate: \"{{.text}}\"\n",
	"coder":           "system_prompt: coder\nargs: [api_docs, edit_target, command_list]\ntemplate: \"{{.command_list}}\"\n",
	"doc_extractor":   "system_prompt: doc_extractor\nargs: [markdown_document, num_medias]\ntemplate: \"{{.markdown_document}}\"\n",
	"merge_metadata":  "system_prompt: merge_metadata\nargs: [metadata]\ntemplate: \"{{json .metadata}}\"\n",
	"table_caption":   "system_prompt: table_caption\nargs: [markdown_content, markdown_caption]\ntemplate: \"{{.markdown_caption}}\"\n",
	"image_caption":   "system_prompt: image_caption\nuse_model: vision\nargs: [markdown_caption]\ntemplate: \"{{.markdown_caption}}\"\n",
	"topic_writer":    "system_prompt: topic_writer\nargs: [topic]\ntemplate: \"{{.topic}}\"\n",
}

func testRoles(t *testing.T) map[string]*generator.Role {
	t.Helper()
	roles := map[string]*generator.Role{}
	for name, def := range roleDefs {
		r, err := generator.ParseRole(name, []byte(def))
		require.NoError(t, err)
		roles[name] = r
	}
	return roles
}

func testDoc(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.New(map[string]string{"title": "Causality"}, []*document.Section{
		{Title: "Background", SubSections: []*document.SubSection{
			{Title: "Problem", Content: "X causes Y"},
			{Title: "Prior Work", Content: "Z studied X"},
		}},
		{Title: "Method", SubSections: []*document.SubSection{
			{Title: "Setup", Content: "We measure X"},
		}},
	})
	require.NoError(t, err)
	return doc
}

func referenceDeck() *presentation.Deck {
	return &presentation.Deck{Slides: []*presentation.Slide{{ID: 1, Shapes: []*presentation.Shape{
		{ID: 1, Kind: presentation.ShapeText, Name: "title", Paragraphs: []*presentation.Paragraph{{ID: 0, Text: "Agenda"}}},
		{ID: 2, Kind: presentation.ShapeText, Name: "bullets", Paragraphs: []*presentation.Paragraph{{ID: 0, Text: "a"}}},
	}}}}
}

// script answers every role deterministically. Slide failSlide gets editor
// output that never validates; the first badOutlines planner answers
// reference an unknown section.
type script struct {
	failSlide   int
	badOutlines int32
	outline     string
	coderDelay  func(n int) time.Duration

	planner atomic.Int32
}

var (
	slideNum = regexp.MustCompile(`Slide-(\d+)`)
	titleTag = regexp.MustCompile(`"T(\d+)"`)
)

func origin(p generator.Prompt) string {
	if len(p.History) > 0 {
		return p.History[0].Content
	}
	return p.User
}

func (s *script) respond(p generator.Prompt) (string, error) {
	switch p.System {
	case "planner":
		if s.planner.Add(1) <= s.badOutlines {
			return `[{"title": "Intro", "description": "d", "indexs": {"Nope": ["Problem"]}}]`, nil
		}
		if s.outline != "" {
			return s.outline, nil
		}
		return threeSlideOutline, nil
	case "layout_selector":
		return `{"layout": "Bullets"}`, nil
	case "editor":
		m := slideNum.FindStringSubmatch(origin(p))
		if m == nil {
			return "", fmt.Errorf("no slide number in %q", origin(p))
		}
		n, _ := strconv.Atoi(m[1])
		if n == s.failSlide {
			return `{"title": {"data": ["T` + m[1] + `"]}}`, nil
		}
		return `{"title": {"data": ["T` + m[1] + `"]}, "bullets": {"data": ["p", "q", ""]}}`, nil
	case "coder":
		m := titleTag.FindStringSubmatch(origin(p))
		if m == nil {
			return "", fmt.Errorf("no title in %q", origin(p))
		}
		if s.coderDelay != nil {
			n, _ := strconv.Atoi(m[1])
			time.Sleep(s.coderDelay(n))
		}
		return "```\n" +
			`replace_paragraph(1, 0, "T` + m[1] + `")` + "\n" +
			"clone_paragraph(2, 0)\n" +
			`replace_paragraph(2, 0, "p")` + "\n" +
			`replace_paragraph(2, 1, "q")` + "\n```", nil
	}
	return "", fmt.Errorf("unexpected role %q", p.System)
}

func callsFor(llm *generator.ScriptedLLM, role string, match string) int {
	n := 0
	for _, c := range llm.Calls() {
		if c.System == role && (match == "" || regexp.MustCompile(match).MatchString(origin(c))) {
			n++
		}
	}
	return n
}

func newGenerator(t *testing.T, llm generator.LLMClient, strategy Strategy, opts Options) *Generator {
	t.Helper()
	reg, err := layout.ParseRegistry([]byte(testInduction))
	require.NoError(t, err)
	models, err := generator.Models{Language: llm}.Resolve()
	require.NoError(t, err)
	g, err := New(context.Background(), Config{
		Models:    models,
		Roles:     testRoles(t),
		Layouts:   reg,
		Reference: referenceDeck(),
		Strategy:  strategy,
		Options:   opts,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func slideTitles(slides []*presentation.Slide) []string {
	var out []string
	for _, s := range slides {
		out = append(out, s.Shapes[0].Paragraphs[0].Text)
	}
	return out
}

func TestGeneratePres_Sequential(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())
	run := Run{Dir: t.TempDir()}

	var last Progress
	run.Progress = func(p Progress) { last = p }
	res, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"T1", "T2", "T3"}, slideTitles(res.Slides))
	assert.Empty(t, res.Failures)
	assert.Equal(t, filepath.Join(run.Dir, "final.json"), res.Output)
	assert.Equal(t, Progress{Stage: "done", Done: 3, Total: 3}, last)

	bullets := res.Slides[0].Shapes[1].Paragraphs
	require.Len(t, bullets, 2)
	assert.Equal(t, "q", bullets[1].Text)
	assert.Equal(t, "Bullets", res.Slides[0].Layout)

	deck, err := presentation.Load(res.Output)
	require.NoError(t, err)
	assert.Len(t, deck.Slides, 3)

	for _, f := range []string{"presentation_outline.json", "history/planner.json", "history/editor.json",
		"history/coder.json", "history/layout_selector.json", "code_steps.jsonl", "agent_steps.jsonl"} {
		assert.FileExists(t, filepath.Join(run.Dir, f))
	}
	assert.Equal(t, 3, callsFor(llm, "layout_selector", ""))
}

func TestGeneratePres_OutlineIsCached(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())
	run := Run{Dir: t.TempDir()}

	first, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	require.NoError(t, err)
	cached, err := os.ReadFile(run.OutlinePath())
	require.NoError(t, err)

	second, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	require.NoError(t, err)
	again, err := os.ReadFile(run.OutlinePath())
	require.NoError(t, err)

	assert.Equal(t, int32(1), sc.planner.Load())
	assert.Equal(t, first.Outline, second.Outline)
	assert.Equal(t, string(cached), string(again))
}

func TestGeneratePres_OutlineRepair(t *testing.T) {
	sc := &script{badOutlines: 1}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 3, nil)
	require.NoError(t, err)
	assert.Len(t, res.Outline, 3)
	assert.Equal(t, 2, callsFor(llm, "planner", ""))

	var retry generator.Prompt
	for _, c := range llm.Calls() {
		if c.System == "planner" && len(c.History) > 0 {
			retry = c
		}
	}
	assert.Contains(t, retry.User, document.ErrSectionNotFound.Error())
}

func TestGeneratePres_OutlineRetryCeiling(t *testing.T) {
	for _, retries := range []int{0, 2} {
		sc := &script{badOutlines: 100}
		llm := &generator.ScriptedLLM{Respond: sc.respond}
		g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: retries})
		run := Run{Dir: t.TempDir()}

		res, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, generator.ErrRetriesExhausted)
		assert.Equal(t, retries+1, callsFor(llm, "planner", ""))
		assert.Empty(t, res.Output)
		assert.NoFileExists(t, run.OutlinePath())
		assert.NoFileExists(t, run.OutputPath(".json"))
		assert.FileExists(t, filepath.Join(run.HistoryDir(), "planner.json"))
	}
}

func TestGeneratePres_SkipFailedSlide(t *testing.T) {
	sc := &script{failSlide: 2}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: 2})

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T3"}, slideTitles(res.Slides))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.ErrorIs(t, res.Failures[0], generator.ErrRetriesExhausted)
	assert.ErrorIs(t, res.Failures[0], layout.ErrInvalidContent)
	assert.FileExists(t, res.Output)

	assert.Equal(t, 3, callsFor(llm, "editor", `^Slide-2 `))
	assert.Zero(t, callsFor(llm, "coder", `"T2"`))
}

// brokenScript edits the slide before failing, so a retry only passes when it
// starts from a fresh copy of the template.
const brokenScript = "replace_paragraph(1, 0, \"broken\")\nreplace_paragraph(9, 0, \"x\")"

func TestGeneratePres_CoderRepair(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: func(p generator.Prompt) (string, error) {
		if p.System == "coder" && len(p.History) == 0 {
			return brokenScript, nil
		}
		return sc.respond(p)
	}}
	g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: 1})

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 3, nil)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	assert.Equal(t, []string{"T1", "T2", "T3"}, slideTitles(res.Slides))
	for _, sl := range res.Slides {
		require.Len(t, sl.Shapes[1].Paragraphs, 2)
		assert.Equal(t, "p", sl.Shapes[1].Paragraphs[0].Text)
		assert.Equal(t, "q", sl.Shapes[1].Paragraphs[1].Text)
	}

	assert.Equal(t, 6, callsFor(llm, "coder", ""))
	retries := 0
	for _, c := range llm.Calls() {
		if c.System != "coder" || len(c.History) == 0 {
			continue
		}
		retries++
		assert.Contains(t, c.User, "element 9 not found on slide 1")
		assert.Contains(t, c.User, "executed successfully")
		assert.Equal(t, brokenScript, c.History[len(c.History)-1].Content)
	}
	assert.Equal(t, 3, retries)

	tpl, err := g.cfg.Reference.Slide(1)
	require.NoError(t, err)
	assert.Equal(t, "Agenda", tpl.Shapes[0].Paragraphs[0].Text)
	assert.Len(t, tpl.Shapes[1].Paragraphs, 1)
}

func TestGeneratePres_CoderRetryCeiling(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: func(p generator.Prompt) (string, error) {
		if p.System == "coder" {
			return brokenScript, nil
		}
		return sc.respond(p)
	}}
	g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: 2})

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 3, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Slides)
	require.Len(t, res.Failures, 3)
	for _, f := range res.Failures {
		assert.ErrorIs(t, f, generator.ErrRetriesExhausted)
		assert.True(t, strings.HasPrefix(f.Err.Error(), "code:"), f.Err.Error())
	}
	assert.Equal(t, 9, callsFor(llm, "coder", ""))
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 3, callsFor(llm, "coder", fmt.Sprintf(`"T%d"`, i)))
	}
}

func TestGeneratePres_ErrorExitWritesNoOutput(t *testing.T) {
	sc := &script{failSlide: 2}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: 1, ErrorExit: true})
	run := Run{Dir: t.TempDir()}

	res, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	require.Error(t, err)
	var se *SlideError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Index)
	assert.Empty(t, res.Output)
	assert.NoFileExists(t, run.OutputPath(".json"))

	assert.Zero(t, callsFor(llm, "editor", `^Slide-3 `))
	assert.FileExists(t, filepath.Join(run.HistoryDir(), "editor.json"))
	assert.FileExists(t, filepath.Join(run.Dir, "code_steps.jsonl"))
}

func TestGeneratePres_ConcurrentKeepsOutlineOrder(t *testing.T) {
	sc := &script{coderDelay: func(n int) time.Duration { return time.Duration(4-n) * 20 * time.Millisecond }}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Concurrent{Limit: 3}, DefaultOptions())

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3"}, slideTitles(res.Slides))
}

func TestGeneratePres_ConcurrentSkipsWithoutCancelling(t *testing.T) {
	sc := &script{failSlide: 2}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Concurrent{Limit: 2}, Options{RetryTimes: 1, ErrorExit: true})
	run := Run{Dir: t.TempDir()}

	res, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"T1", "T3"}, slideTitles(res.Slides))
	assert.NoFileExists(t, run.OutputPath(".json"))
}

func TestGeneratePres_ForcePages(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, Options{RetryTimes: 1, ForcePages: true})

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 2, nil)
	require.NoError(t, err)
	assert.Len(t, res.Outline, 2)
	assert.Len(t, res.Slides, 2)
}

func TestGeneratePres_ProvidedOutline(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())
	items, err := document.ParseOutline(json.RawMessage(threeSlideOutline))
	require.NoError(t, err)

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir(), Prefix: "deck"}, testDoc(t), 0, items[:1])
	require.NoError(t, err)
	assert.Zero(t, sc.planner.Load())
	assert.Equal(t, "deck.json", filepath.Base(res.Output))
	assert.Len(t, res.Slides, 1)
}

func TestGenerateCommands(t *testing.T) {
	reg, err := layout.ParseRegistry([]byte(testInduction))
	require.NoError(t, err)
	lay, err := reg.Get("Bullets")
	require.NoError(t, err)

	p, err := layout.ParseProposal([]byte(`{"title": {"data": "New"}, "bullets": {"data": ["x", "", "y", null, "z"]}}`))
	require.NoError(t, err)
	require.NoError(t, lay.Validate(p, 0, ""))

	cmds, err := GenerateCommands(p, lay)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "title", cmds[0].Element)
	assert.Equal(t, 0, cmds[0].QuantityChange)
	assert.Equal(t, 3-1, cmds[1].QuantityChange)
	assert.Equal(t, []any{"x", "y", "z"}, cmds[1].New)
	assert.Equal(t, `("bullets", "text", "quantity_change: 2", ["a"], ["x","y","z"])`, cmds[1].String())

	again, err := GenerateCommands(p, lay)
	require.NoError(t, err)
	assert.Equal(t, CommandList(cmds), CommandList(again))
}

func TestSequential_StopsOnError(t *testing.T) {
	var ran []int
	errs := Sequential{}.Run(context.Background(), 3, func(_ context.Context, i int) error {
		ran = append(ran, i)
		if i == 1 {
			return fmt.Errorf("boom")
		}
		return nil
	}, true)
	assert.Equal(t, []int{0, 1}, ran)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
}

func TestConcurrent_BoundedAndIsolated(t *testing.T) {
	var inFlight, peak, ran atomic.Int32
	errs := Concurrent{Limit: 2}.Run(context.Background(), 6, func(_ context.Context, i int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		ran.Add(1)
		if i == 0 {
			return fmt.Errorf("first fails")
		}
		if i == 3 {
			panic("bad slide")
		}
		return nil
	}, true)
	assert.Equal(t, int32(6), ran.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Error(t, errs[0])
	assert.ErrorContains(t, errs[3], "panicked")
	for _, i := range []int{1, 2, 4, 5} {
		assert.NoError(t, errs[i])
	}
}

func TestOutlineSchema(t *testing.T) {
	s, err := OutlineSchema(false)
	require.NoError(t, err)
	assert.Contains(t, s, `"indexs"`)
	assert.Contains(t, s, `"additionalProperties"`)

	var parsed struct {
		Items struct {
			Required []string `json:"required"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(s), &parsed))
	assert.ElementsMatch(t, []string{"title", "description", "indexs"}, parsed.Items.Required)

	s, err = OutlineSchema(true)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(s), &parsed))
	assert.Contains(t, parsed.Items.Required, "layout")
}

type fixedEmbedder map[string][]float64

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := f[t]
		if !ok {
			v = []float64{0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbeddingSelector_CheckOutline(t *testing.T) {
	reg, err := layout.ParseRegistry([]byte(testInduction))
	require.NoError(t, err)
	sel, err := NewEmbeddingSelector(context.Background(), reg, fixedEmbedder{
		"Bullets":      {1, 0},
		"Bullet slide": {0.9, 0.1},
	})
	require.NoError(t, err)

	items := []document.OutlineItem{{Title: "A", Layout: "Bullet slide"}}
	require.NoError(t, sel.CheckOutline(context.Background(), items))
	assert.Equal(t, "Bullets", items[0].Layout)

	err = sel.CheckOutline(context.Background(), []document.OutlineItem{{Title: "B"}})
	assert.ErrorContains(t, err, "has no layout")

	err = sel.CheckOutline(context.Background(), []document.OutlineItem{{Title: "C", Layout: "Chart"}})
	assert.ErrorIs(t, err, layout.ErrLayoutNotFound)
}

func TestGeneratePres_EmbeddingSelectorPlansLayouts(t *testing.T) {
	sc := &script{outline: `[
	  {"title": "Intro", "description": "d1", "indexs": {"Background": ["Problem"]}, "layout": "Bullet slide"},
	  {"title": "Method", "description": "d2", "indexs": {"Method": ["Setup"]}, "layout": "Bullets"}
	]`}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newEmbeddingGenerator(t, llm)

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bullets", res.Outline[0].Layout)
	assert.Len(t, res.Slides, 2)
	assert.Zero(t, callsFor(llm, "layout_selector", ""))
}

func newEmbeddingGenerator(t *testing.T, llm generator.LLMClient) *Generator {
	t.Helper()
	reg, err := layout.ParseRegistry([]byte(testInduction))
	require.NoError(t, err)
	g, err := New(context.Background(), Config{
		Models:    generator.Models{Language: llm, Vision: llm, Embedder: fixedEmbedder{"Bullets": {1, 0}, "Bullet slide": {0.9, 0.1}}},
		Roles:     testRoles(t),
		Layouts:   reg,
		Reference: referenceDeck(),
		Strategy:  Concurrent{},
		Options:   DefaultOptions(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func TestGeneratePres_CachedOutlineChecksLayouts(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newEmbeddingGenerator(t, llm)

	run := Run{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(run.OutlinePath(), []byte(threeSlideOutline), 0o644))
	res, err := g.GeneratePres(context.Background(), run, testDoc(t), 3, nil)
	assert.ErrorContains(t, err, "has no layout")
	assert.Empty(t, res.Slides)
	assert.Zero(t, sc.planner.Load())
	assert.NoFileExists(t, run.OutputPath(".json"))

	run = Run{Dir: t.TempDir()}
	cached := `[{"title": "Intro", "description": "d1", "indexs": {"Background": ["Problem"]}, "layout": "Bullet slide"}]`
	require.NoError(t, os.WriteFile(run.OutlinePath(), []byte(cached), 0o644))
	res, err = g.GeneratePres(context.Background(), run, testDoc(t), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bullets", res.Outline[0].Layout)
	assert.Len(t, res.Slides, 1)
	assert.Zero(t, sc.planner.Load())
}

func TestGeneratePres_ProvidedOutlineIsNotModified(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: sc.respond}
	g := newEmbeddingGenerator(t, llm)
	items := []document.OutlineItem{{
		Title:       "Intro",
		Description: "d1",
		Indexes:     document.SectionIndex{{Section: "Background", SubSections: []string{"Problem"}}},
		Layout:      "Bullet slide",
	}}

	res, err := g.GeneratePres(context.Background(), Run{Dir: t.TempDir()}, testDoc(t), 0, items)
	require.NoError(t, err)
	assert.Equal(t, "Bullets", res.Outline[0].Layout)
	assert.Equal(t, "Bullet slide", items[0].Layout)
	assert.Len(t, res.Slides, 1)
}
