package pptgen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_slide_generator/generator"
)

const topicDoc = `{"metadata": {"title": "Causality"}, "sections": [
  {"title": "Background", "subsections": [{"title": "Problem", "content": "X causes Y"}, {"title": "Prior Work", "content": "Z studied X"}]},
  {"title": "Method", "subsections": [{"title": "Setup", "content": "We measure X"}]}
]}`

func TestSourceValidate(t *testing.T) {
	assert.Error(t, Source{}.Validate())
	assert.Error(t, Source{Topic: "a", Markdown: "# b"}.Validate())
	assert.NoError(t, Source{Topic: "a"}.Validate())
	assert.NoError(t, Source{Document: json.RawMessage(topicDoc)}.Validate())
}

func TestLoadDocument_FromJSON(t *testing.T) {
	llm := &generator.ScriptedLLM{}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())

	doc, err := g.LoadDocument(context.Background(), Run{Dir: t.TempDir()}, Source{Document: json.RawMessage(topicDoc)})
	require.NoError(t, err)
	assert.Len(t, doc.Sections, 2)
	assert.Empty(t, llm.Calls())
}

func TestLoadDocument_TopicThenGenerate(t *testing.T) {
	sc := &script{}
	llm := &generator.ScriptedLLM{Respond: func(p generator.Prompt) (string, error) {
		if p.System == "topic_writer" {
			return topicDoc, nil
		}
		return sc.respond(p)
	}}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())
	run := Run{Dir: t.TempDir()}

	doc, err := g.LoadDocument(context.Background(), run, Source{Topic: "causality"})
	require.NoError(t, err)
	assert.Equal(t, "Causality", doc.Metadata["title"])
	assert.FileExists(t, run.DocumentPath())
	assert.FileExists(t, run.HistoryDir()+"/topic_writer.json")

	again, err := g.LoadDocument(context.Background(), run, Source{Topic: "causality"})
	require.NoError(t, err)
	assert.Equal(t, doc.Sections[0].Title, again.Sections[0].Title)
	assert.Equal(t, 1, callsFor(llm, "topic_writer", ""))

	res, err := g.GeneratePres(context.Background(), run, doc, 3, nil)
	require.NoError(t, err)
	assert.Len(t, res.Slides, 3)
	assert.FileExists(t, run.HistoryDir()+"/topic_writer.json")
}

const figureDoc = `{"metadata": {}, "sections": [
  {"title": "Results", "subsections": [{"title": "Chart", "content": "X rises",
    "medias": [{"markdown_content": "![fig](fig.png)", "markdown_caption": "fig", "path": "fig.png"}]}]}
]}`

func imageDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fig.png"), []byte("png"), 0o644))
	return dir
}

func TestLoadDocument_CaptionsSuppliedMedias(t *testing.T) {
	llm := &generator.ScriptedLLM{Respond: func(p generator.Prompt) (string, error) {
		if p.System == "image_caption" {
			return "A chart of X over time", nil
		}
		return "", nil
	}}
	g := newGenerator(t, llm, Sequential{}, DefaultOptions())
	images := imageDir(t)
	run := Run{Dir: t.TempDir()}

	doc, err := g.LoadDocument(context.Background(), run, Source{Document: json.RawMessage(figureDoc), ImageDir: images})
	require.NoError(t, err)
	medias := doc.Medias()
	require.Len(t, medias, 1)
	assert.Equal(t, "A chart of X over time", medias[0].Caption)
	assert.Equal(t, 1, callsFor(llm, "image_caption", ""))
	assert.Equal(t, []string{filepath.Join(images, "fig.png")}, llm.Calls()[0].Images)
	assert.FileExists(t, run.DocumentPath())

	again, err := g.LoadDocument(context.Background(), run, Source{Document: json.RawMessage(figureDoc), ImageDir: images})
	require.NoError(t, err)
	assert.Equal(t, "A chart of X over time", again.Medias()[0].Caption)
	assert.Equal(t, 1, callsFor(llm, "image_caption", ""))
}

func TestLoadDocument_RejectsUncaptionedRefinedDocument(t *testing.T) {
	g := newGenerator(t, &generator.ScriptedLLM{}, Sequential{}, DefaultOptions())
	images := imageDir(t)
	run := Run{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(run.DocumentPath(), []byte(figureDoc), 0o644))

	_, err := g.LoadDocument(context.Background(), run, Source{Topic: "x", ImageDir: images})
	assert.ErrorContains(t, err, "caption is required")
}

func TestLoadDocument_Errors(t *testing.T) {
	g := newGenerator(t, &generator.ScriptedLLM{}, Sequential{}, DefaultOptions())
	_, err := g.LoadDocument(context.Background(), Run{}, Source{Topic: "x"})
	assert.Error(t, err)
	_, err = g.LoadDocument(context.Background(), Run{Dir: t.TempDir()}, Source{})
	assert.Error(t, err)
}
