package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrLayoutNotFound = errors.New("layout not found")
	ErrInvalidContent = errors.New("content does not fit layout")
)

const (
	TypeText  = "text"
	TypeImage = "image"
)

// Layout is a reference slide structure content can be poured into.
type Layout interface {
	Name() string
	ContentSchema() Schema
	Overview() string
	// SlideID picks the 1-based template slide that best fits the proposal.
	SlideID(p Proposal) int
	// OldData is the content currently bound to each schema element of the
	// slide SlideID would pick.
	OldData(p Proposal) map[string]any
	// Validate checks p against the schema and resolves image paths in place.
	Validate(p Proposal, lengthFactor float64, imageDir string) error
}

// Element is one named slot of a layout.
type Element struct {
	Name                string `json:"-"`
	Type                string `json:"type"`
	Description         string `json:"description,omitempty"`
	Data                any    `json:"data,omitempty"`
	SuggestedCharacters int    `json:"suggested_characters,omitempty"`
}

// Schema is an ordered list of elements, encoded as a JSON object.
type Schema []Element

func (s Schema) Element(name string) (Element, bool) {
	for _, el := range s {
		if el.Name == name {
			return el, true
		}
	}
	return Element{}, false
}

func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, el := range s {
		out[i] = el.Name
	}
	return out
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("content schema must be an object, got %v", tok)
	}
	var out Schema
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		var el Element
		if err := dec.Decode(&el); err != nil {
			return fmt.Errorf("schema element %q: %w", name, err)
		}
		if el.Type != TypeText && el.Type != TypeImage {
			return fmt.Errorf("schema element %q: unknown type %q", name, el.Type)
		}
		el.Name = name
		out = append(out, el)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, el := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(el.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(el)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Proposal is editor output: element name to {"data": ...}.
type Proposal map[string]map[string]any

// ParseProposal decodes an editor answer.
func ParseProposal(raw []byte) (Proposal, error) {
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: editor output must map element names to objects: %v", ErrInvalidContent, err)
	}
	return p, nil
}

// Items returns the data of element name as a list, with falsy entries removed.
func (p Proposal) Items(name string) []any {
	return Truthy(AsList(p[name]["data"]))
}

// AsList wraps a bare value into a one-element list; nil becomes empty.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Truthy drops empty strings, zero numbers, false, nil and empty collections.
func Truthy(items []any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		if !falsy(it) {
			out = append(out, it)
		}
	}
	return out
}

func falsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	}
	return false
}
