package pptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
)

// Planner turns a document into a validated outline.
type Planner struct {
	Selector LayoutSelector
	Layouts  []string
	Retries  int
	Log      zerolog.Logger
}

// Outline returns the run's cached outline when present, otherwise asks the
// planner role, validates the answer and caches it.
func (p *Planner) Outline(ctx context.Context, run Run, staff *generator.Staff, doc *document.Document, numSlides int) ([]document.OutlineItem, error) {
	if data, err := os.ReadFile(run.OutlinePath()); err == nil {
		items, err := document.ParseOutline(data)
		if err != nil {
			return nil, fmt.Errorf("cached outline %s: %w", run.OutlinePath(), err)
		}
		if p.Selector != nil {
			if err := p.Selector.CheckOutline(ctx, items); err != nil {
				return nil, fmt.Errorf("cached outline %s: %w", run.OutlinePath(), err)
			}
		}
		outlinesTotal.WithLabelValues("cached").Inc()
		p.Log.Info().Int("slides", len(items)).Msg("reusing cached outline")
		return items, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read cached outline: %w", err)
	}

	agent, err := staff.Agent("planner")
	if err != nil {
		return nil, err
	}
	var layouts []string
	if p.Selector != nil && p.Selector.Planned() {
		layouts = p.Layouts
	}
	schema, err := OutlineSchema(len(layouts) > 0)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"num_slides":        numSlides,
		"document_overview": doc.Overview(),
		"output_schema":     schema,
		"layouts":           layouts,
	}
	items, err := generator.CallJSON(ctx, agent, p.Retries, vars, func(raw []byte) ([]document.OutlineItem, error) {
		return p.validate(ctx, raw, doc)
	})
	if err != nil {
		if errors.Is(err, generator.ErrRetriesExhausted) {
			exhaustedTotal.WithLabelValues("outline").Inc()
		}
		outlinesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("generate outline: %w", err)
	}
	if err := writeJSON(run.OutlinePath(), items); err != nil {
		return nil, fmt.Errorf("save outline: %w", err)
	}
	outlinesTotal.WithLabelValues("generated").Inc()
	p.Log.Info().Int("slides", len(items)).Msg("outline generated")
	return items, nil
}

func (p *Planner) validate(ctx context.Context, raw []byte, doc *document.Document) ([]document.OutlineItem, error) {
	items, err := document.ParseOutline(raw)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("outline is empty")
	}
	for i, item := range items {
		if _, err := item.Retrieve(i, doc); err != nil {
			return nil, fmt.Errorf("slide %d (%s): %w", i+1, item.Title, err)
		}
	}
	if p.Selector != nil {
		if err := p.Selector.CheckOutline(ctx, items); err != nil {
			return nil, err
		}
	}
	return items, nil
}

var sectionIndexType = reflect.TypeOf(document.SectionIndex{})

// OutlineSchema is the JSON Schema of the planner answer.
func OutlineSchema(withLayout bool) (string, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != sectionIndexType {
				return nil
			}
			return &jsonschema.Schema{
				Type:                 "object",
				Description:          "Section title to the subsection titles the slide draws on",
				AdditionalProperties: &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			}
		},
	}
	s := r.Reflect([]document.OutlineItem{})
	if withLayout && s.Items != nil {
		s.Items.Required = append(s.Items.Required, "layout")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
