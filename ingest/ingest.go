package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
)

// Roles an Extractor's staff must have hired.
var Roles = []string{"doc_extractor", "merge_metadata", "table_caption", "image_caption", "topic_writer"}

// Extractor builds documents from markdown or a bare topic with the help of
// the language and vision models.
type Extractor struct {
	Staff    *generator.Staff
	Retries  int
	Renderer document.TableRenderer
	// Parallel bounds concurrent chunk extraction; 4 when zero.
	Parallel int
	Log      zerolog.Logger
}

type extracted struct {
	section  *document.Section
	metadata map[string]string
}

// FromMarkdown splits md at its top-level headings, extracts one section per
// chunk, merges the metadata and captions every media.
func (e *Extractor) FromMarkdown(ctx context.Context, md, imageDir string) (*document.Document, error) {
	var chunks []document.Chunk
	for _, c := range document.SplitMarkdown(md) {
		if strings.TrimSpace(c.Text()) != "" {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("markdown document is empty")
	}
	agent, err := e.Staff.Agent("doc_extractor")
	if err != nil {
		return nil, err
	}

	results := make([]extracted, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.Parallel
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, c := range chunks {
		g.Go(func() error {
			text := c.Text()
			want := document.CountMedias(text)
			res, err := generator.CallJSON(gctx, agent, e.Retries, map[string]any{
				"markdown_document": text,
				"num_medias":        want,
			}, func(raw []byte) (extracted, error) {
				return decodeChunk(raw, want)
			})
			if err != nil {
				return fmt.Errorf("chunk %d (%s): %w", i+1, c.Header, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sections := make([]*document.Section, len(results))
	var metas []map[string]string
	for i, r := range results {
		sections[i] = r.section
		if len(r.metadata) > 0 {
			metas = append(metas, r.metadata)
		}
	}
	metadata, err := e.mergeMetadata(ctx, metas)
	if err != nil {
		return nil, err
	}
	doc, err := document.New(metadata, sections)
	if err != nil {
		return nil, err
	}
	doc.ImageDir = imageDir
	for _, sec := range doc.Sections {
		if err := sec.ValidateMedias(imageDir, false, e.Renderer); err != nil {
			return nil, err
		}
	}
	if err := e.Caption(ctx, doc); err != nil {
		return nil, err
	}
	e.Log.Info().Int("sections", len(doc.Sections)).Int("medias", len(doc.Medias())).Msg("document extracted")
	return doc, nil
}

func decodeChunk(raw []byte, wantMedias int) (extracted, error) {
	sec, err := document.DecodeSection(raw)
	if err != nil {
		return extracted{}, err
	}
	if got := len(sec.Medias()); got != wantMedias {
		return extracted{}, fmt.Errorf("the markdown contains %d medias but %d were extracted, keep every image and table exactly once", wantMedias, got)
	}
	var wrapper struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return extracted{}, err
	}
	out := extracted{section: sec}
	if len(wrapper.Metadata) > 0 && string(wrapper.Metadata) != "null" {
		meta, err := document.DecodeMetadata(wrapper.Metadata)
		if err != nil {
			return extracted{}, err
		}
		out.metadata = meta
	}
	return out, nil
}

func (e *Extractor) mergeMetadata(ctx context.Context, metas []map[string]string) (map[string]string, error) {
	switch len(metas) {
	case 0:
		return map[string]string{}, nil
	case 1:
		return metas[0], nil
	}
	agent, err := e.Staff.Agent("merge_metadata")
	if err != nil {
		return nil, err
	}
	return generator.CallJSON(ctx, agent, e.Retries, map[string]any{"metadata": metas}, func(raw []byte) (map[string]string, error) {
		return document.DecodeMetadata(raw)
	})
}

// Caption fills in missing media captions: tables through the language model,
// images through the vision model.
func (e *Extractor) Caption(ctx context.Context, doc *document.Document) error {
	for _, m := range doc.Medias() {
		if m.Caption != "" {
			continue
		}
		var (
			role   = "image_caption"
			vars   = map[string]any{"markdown_caption": m.MarkdownCaption}
			images []string
		)
		if m.Table {
			role = "table_caption"
			vars["markdown_content"] = m.MarkdownContent
		} else {
			path := m.Path
			if !filepath.IsAbs(path) && doc.ImageDir != "" {
				path = filepath.Join(doc.ImageDir, path)
			}
			images = []string{path}
		}
		agent, err := e.Staff.Agent(role)
		if err != nil {
			return err
		}
		conv, err := agent.Call(ctx, vars, images...)
		if err != nil {
			return fmt.Errorf("caption %q: %w", m.MarkdownCaption, err)
		}
		m.Caption = strings.TrimSpace(conv.Answer())
		if m.Caption == "" {
			m.Caption = m.MarkdownCaption
		}
	}
	return nil
}

// FromTopic asks the topic writer for a whole document.
func (e *Extractor) FromTopic(ctx context.Context, topic, imageDir string) (*document.Document, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is empty")
	}
	agent, err := e.Staff.Agent("topic_writer")
	if err != nil {
		return nil, err
	}
	doc, err := generator.CallJSON(ctx, agent, e.Retries, map[string]any{"topic": topic}, func(raw []byte) (*document.Document, error) {
		return document.FromJSON(raw, imageDir, false, e.Renderer)
	})
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Metadata["title"]; !ok {
		doc.Metadata["title"] = topic
	}
	if err := e.Caption(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
