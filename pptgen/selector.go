package pptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
	"auto_slide_generator/layout"
)

// LayoutSelector decides which layout a slide uses.
type LayoutSelector interface {
	// Planned reports whether the planner must name a layout for every slide.
	Planned() bool
	// CheckOutline validates and normalizes the layouts named in an outline.
	CheckOutline(ctx context.Context, items []document.OutlineItem) error
	Select(ctx context.Context, staff *generator.Staff, item document.OutlineItem, content string) (layout.Layout, error)
}

// AgentSelector asks the layout_selector role to pick among layout overviews.
type AgentSelector struct {
	Layouts *layout.Registry
	Retries int
}

func (s *AgentSelector) Planned() bool { return false }

func (s *AgentSelector) CheckOutline(context.Context, []document.OutlineItem) error { return nil }

func (s *AgentSelector) Select(ctx context.Context, staff *generator.Staff, _ document.OutlineItem, content string) (layout.Layout, error) {
	agent, err := staff.Agent("layout_selector")
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"layout_description": content,
		"available_layouts":  s.Layouts.Overviews(),
	}
	return generator.CallJSON(ctx, agent, s.Retries, vars, func(raw []byte) (layout.Layout, error) {
		name, err := layoutName(raw)
		if err != nil {
			return nil, err
		}
		return s.Layouts.Get(name)
	})
}

func layoutName(raw []byte) (string, error) {
	var obj struct {
		Layout string `json:"layout"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Layout != "" {
		return strings.TrimSpace(obj.Layout), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil && name != "" {
		return strings.TrimSpace(name), nil
	}
	return "", errors.New(`answer must be {"layout": "<layout name>"}`)
}

// EmbeddingSelector resolves the layout the planner proposed for each slide
// by name similarity, during outline validation.
type EmbeddingSelector struct {
	Layouts *layout.Registry
	Matcher *layout.Matcher
}

func NewEmbeddingSelector(ctx context.Context, layouts *layout.Registry, embedder layout.Embedder) (*EmbeddingSelector, error) {
	m, err := layout.NewMatcher(ctx, embedder, layouts.Names(), 0)
	if err != nil {
		return nil, err
	}
	return &EmbeddingSelector{Layouts: layouts, Matcher: m}, nil
}

func (s *EmbeddingSelector) Planned() bool { return true }

func (s *EmbeddingSelector) CheckOutline(ctx context.Context, items []document.OutlineItem) error {
	for i := range items {
		if strings.TrimSpace(items[i].Layout) == "" {
			return fmt.Errorf("slide %d (%s) has no layout, every slide needs one of %q",
				i+1, items[i].Title, s.Layouts.Names())
		}
		name, _, err := s.Matcher.Match(ctx, items[i].Layout)
		if err != nil {
			return fmt.Errorf("slide %d (%s): %w", i+1, items[i].Title, err)
		}
		items[i].Layout = name
	}
	return nil
}

func (s *EmbeddingSelector) Select(_ context.Context, _ *generator.Staff, item document.OutlineItem, _ string) (layout.Layout, error) {
	return s.Layouts.Get(item.Layout)
}
