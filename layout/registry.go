package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Registry holds the layouts of one reference deck in file order.
type Registry struct {
	FunctionalKeys []string
	layouts        []*Template
	byName         map[string]*Template
}

// LoadRegistry reads a layout induction file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read induction file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes {"functional_keys": [...], "<layout name>": {...}, ...}.
func ParseRegistry(data []byte) (*Registry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("induction file must be an object")
	}
	r := &Registry{byName: map[string]*Template{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := tok.(string)
		if key == "functional_keys" {
			if err := dec.Decode(&r.FunctionalKeys); err != nil {
				return nil, fmt.Errorf("functional_keys: %w", err)
			}
			continue
		}
		var t Template
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("layout %q: %w", key, err)
		}
		if t.TemplateID <= 0 {
			return nil, fmt.Errorf("layout %q: template_id must be positive", key)
		}
		if len(t.Schema) == 0 {
			return nil, fmt.Errorf("layout %q: empty content_schema", key)
		}
		t.Title = key
		r.layouts = append(r.layouts, &t)
		r.byName[key] = &t
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if len(r.layouts) == 0 {
		return nil, fmt.Errorf("induction file has no layouts")
	}
	return r, nil
}

func (r *Registry) Get(name string) (Layout, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q, must be one of %q", ErrLayoutNotFound, name, r.Names())
	}
	return t, nil
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.layouts))
	for i, t := range r.layouts {
		out[i] = t.Title
	}
	return out
}

func (r *Registry) Overviews() []string {
	out := make([]string, len(r.layouts))
	for i, t := range r.layouts {
		out[i] = t.Overview()
	}
	return out
}

func (r *Registry) Len() int { return len(r.layouts) }
