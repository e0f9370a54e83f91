package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Variant is an alternative template slide for the same layout, with the
// content it carries per element.
type Variant struct {
	SlideID int            `json:"slide_id"`
	Data    map[string]any `json:"data"`
}

// Template is a layout mined from a reference deck.
type Template struct {
	Title      string    `json:"-"`
	TemplateID int       `json:"template_id"`
	Slides     []int     `json:"slides,omitempty"`
	Schema     Schema    `json:"content_schema"`
	Variants   []Variant `json:"variants,omitempty"`
}

func (t *Template) Name() string { return t.Title }

func (t *Template) ContentSchema() Schema { return t.Schema }

func (t *Template) Overview() string {
	parts := make([]string, 0, len(t.Schema))
	for _, el := range t.Schema {
		s := fmt.Sprintf("%s (%s, %d items)", el.Name, el.Type, len(AsList(el.Data)))
		if el.Description != "" {
			s += ": " + el.Description
		}
		parts = append(parts, s)
	}
	return t.Title + "\n" + strings.Join(parts, "\n")
}

// SlideID returns the variant whose element counts are closest to the
// proposal's, falling back to the template slide.
func (t *Template) SlideID(p Proposal) int {
	v := t.variant(p)
	if v == nil {
		return t.TemplateID
	}
	return v.SlideID
}

func (t *Template) variant(p Proposal) *Variant {
	if len(t.Variants) == 0 {
		return nil
	}
	distance := func(data func(string) any) int {
		d := 0
		for _, el := range t.Schema {
			diff := len(p.Items(el.Name)) - len(AsList(data(el.Name)))
			if diff < 0 {
				diff = -diff
			}
			d += diff
		}
		return d
	}
	best := distance(func(name string) any {
		el, _ := t.Schema.Element(name)
		return el.Data
	})
	var pick *Variant
	for i := range t.Variants {
		v := &t.Variants[i]
		d := distance(func(name string) any {
			if data, ok := v.Data[name]; ok {
				return data
			}
			el, _ := t.Schema.Element(name)
			return el.Data
		})
		if d < best {
			best, pick = d, v
		}
	}
	return pick
}

func (t *Template) OldData(p Proposal) map[string]any {
	v := t.variant(p)
	out := make(map[string]any, len(t.Schema))
	for _, el := range t.Schema {
		data := el.Data
		if v != nil {
			if vd, ok := v.Data[el.Name]; ok {
				data = vd
			}
		}
		out[el.Name] = data
	}
	return out
}

func (t *Template) Validate(p Proposal, lengthFactor float64, imageDir string) error {
	var unknown []string
	for name := range p {
		if _, ok := t.Schema.Element(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: elements %q are not part of layout %q, available elements: %q",
			ErrInvalidContent, unknown, t.Title, t.Schema.Names())
	}
	for _, el := range t.Schema {
		body, ok := p[el.Name]
		if !ok {
			return fmt.Errorf("%w: element %q is missing", ErrInvalidContent, el.Name)
		}
		if _, ok := body["data"]; !ok {
			return fmt.Errorf("%w: element %q must have a \"data\" key", ErrInvalidContent, el.Name)
		}
		items := AsList(body["data"])
		switch el.Type {
		case TypeText:
			limit := 0
			if el.SuggestedCharacters > 0 && lengthFactor > 0 {
				limit = int(float64(el.SuggestedCharacters) * lengthFactor)
			}
			for _, it := range items {
				if falsy(it) {
					continue
				}
				s, ok := it.(string)
				if !ok {
					return fmt.Errorf("%w: element %q expects text, got %T", ErrInvalidContent, el.Name, it)
				}
				if n := utf8.RuneCountInString(s); limit > 0 && n > limit {
					return fmt.Errorf("%w: text of element %q is too long (%d characters, at most %d): %q",
						ErrInvalidContent, el.Name, n, limit, s)
				}
			}
		case TypeImage:
			resolved := make([]any, 0, len(items))
			for _, it := range items {
				if falsy(it) {
					continue
				}
				s, ok := it.(string)
				if !ok {
					return fmt.Errorf("%w: element %q expects image paths, got %T", ErrInvalidContent, el.Name, it)
				}
				path, err := resolveImage(s, imageDir)
				if err != nil {
					return fmt.Errorf("%w: element %q: %v", ErrInvalidContent, el.Name, err)
				}
				resolved = append(resolved, path)
			}
			body["data"] = resolved
		}
	}
	return nil
}

func resolveImage(path, imageDir string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if imageDir != "" {
		alt := filepath.Join(imageDir, filepath.Base(path))
		if _, err := os.Stat(alt); err == nil {
			return alt, nil
		}
	}
	return "", fmt.Errorf("image %q not found under %q", path, imageDir)
}
