package pptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
	"auto_slide_generator/ingest"
)

const documentFile = "refined_doc.json"

// Source is where a run's document comes from. Exactly one of Document,
// Markdown and Topic is set.
type Source struct {
	Document json.RawMessage `json:"document,omitempty"`
	Markdown string          `json:"markdown,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	// ImageDir resolves relative media paths.
	ImageDir string `json:"image_dir,omitempty"`
}

func (s Source) Validate() error {
	n := 0
	if len(s.Document) > 0 {
		n++
	}
	if strings.TrimSpace(s.Markdown) != "" {
		n++
	}
	if strings.TrimSpace(s.Topic) != "" {
		n++
	}
	switch n {
	case 0:
		return errors.New("one of document, markdown or topic is required")
	case 1:
		return nil
	default:
		return errors.New("document, markdown and topic are mutually exclusive")
	}
}

func (r Run) DocumentPath() string { return filepath.Join(r.Dir, documentFile) }

// LoadDocument builds the source document of a run. A document already saved
// in the run directory is reused. Every media of the returned document carries
// a caption.
func (g *Generator) LoadDocument(ctx context.Context, run Run, src Source) (*document.Document, error) {
	if err := run.validate(); err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(run.DocumentPath()); err == nil {
		g.log.Info().Str("path", run.DocumentPath()).Msg("reusing refined document")
		return document.FromJSON(data, src.ImageDir, true, g.cfg.TableRenderer)
	}

	history := generator.NewHistory(g.opts.RecordCost)
	staff, err := generator.NewStaff(g.cfg.Roles, g.cfg.Models, history, g.log, ingest.Roles...)
	if err != nil {
		return nil, err
	}
	ex := &ingest.Extractor{
		Staff:    staff,
		Retries:  g.opts.RetryTimes,
		Renderer: g.cfg.TableRenderer,
		Log:      g.log,
	}
	report(run, Progress{Stage: "document"})
	var doc *document.Document
	switch {
	case len(src.Document) > 0:
		doc, err = document.FromJSON(src.Document, src.ImageDir, false, g.cfg.TableRenderer)
		if err == nil {
			err = ex.Caption(ctx, doc)
		}
	case src.Topic != "":
		doc, err = ex.FromTopic(ctx, src.Topic, src.ImageDir)
	default:
		doc, err = ex.FromMarkdown(ctx, src.Markdown, src.ImageDir)
	}
	if len(history.Records()) > 0 {
		if _, serr := history.Save(run.HistoryDir()); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := requireCaptions(doc); err != nil {
		return nil, err
	}
	if err := writeJSON(run.DocumentPath(), doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

func requireCaptions(doc *document.Document) error {
	for _, m := range doc.Medias() {
		if strings.TrimSpace(m.Caption) == "" {
			return fmt.Errorf("caption is required for media: %s", m.Path)
		}
	}
	return nil
}
