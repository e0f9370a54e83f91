package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// IndexEntry references subsections of one section.
type IndexEntry struct {
	Section     string
	SubSections []string
}

// SectionIndex maps section titles to subsection titles. It reads and writes
// as a JSON object and keeps the key order the model produced.
type SectionIndex []IndexEntry

func (s *SectionIndex) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*s = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("indexs must be an object of section title to subsection titles")
	}
	var out SectionIndex
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("indexs[%q]: %w", key, err)
		}
		var subs []string
		if err := json.Unmarshal(raw, &subs); err != nil {
			var one string
			if err2 := json.Unmarshal(raw, &one); err2 != nil {
				return fmt.Errorf("indexs[%q] must be a list of subsection titles: %w", key, err)
			}
			subs = []string{one}
		}
		out = append(out, IndexEntry{Section: key, SubSections: subs})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

func (s SectionIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Section)
		if err != nil {
			return nil, err
		}
		subs := e.SubSections
		if subs == nil {
			subs = []string{}
		}
		v, err := json.Marshal(subs)
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

// OutlineItem is one planned slide.
type OutlineItem struct {
	Title       string       `json:"title" jsonschema:"description=Slide title"`
	Description string       `json:"description" jsonschema:"description=What the slide should convey"`
	Indexes     SectionIndex `json:"indexs" jsonschema:"description=Section title to the subsection titles the slide draws on"`
	Layout      string       `json:"layout,omitempty" jsonschema:"description=Name of the reference layout to use"`
}

// ParseOutline decodes a planner answer. Every item must carry title,
// description and indexs.
func ParseOutline(raw json.RawMessage) ([]OutlineItem, error) {
	var wrapped struct {
		Outline json.RawMessage `json:"outline"`
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && len(wrapped.Outline) > 0 {
			raw = wrapped.Outline
		}
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("outline must be a JSON array of slides: %w", err)
	}
	out := make([]OutlineItem, 0, len(items))
	for i, it := range items {
		if err := requireKeys(it, fmt.Sprintf("outline item %d", i+1), "title", "description", "indexs"); err != nil {
			return nil, err
		}
		b, _ := json.Marshal(it)
		var item OutlineItem
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, fmt.Errorf("outline item %d: %w", i+1, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Retrieve builds the content source of the slide at slideIdx (0-based).
func (o OutlineItem) Retrieve(slideIdx int, doc *Document) (string, error) {
	subs, err := doc.Index(o.Indexes)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Slide-%d %s\n%s\n", slideIdx+1, o.Title, o.Description)
	for _, sub := range subs {
		sb.WriteString(sub.Title)
		sb.WriteByte('\n')
		sb.WriteString(sub.Content)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// SimpleOutline renders the whole outline as "Slide n: title" lines.
func SimpleOutline(items []OutlineItem) string {
	lines := make([]string, 0, len(items))
	for i, it := range items {
		lines = append(lines, fmt.Sprintf("Slide %d: %s", i+1, it.Title))
	}
	return strings.Join(lines, "\n")
}
