package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrSectionNotFound    = errors.New("section not found")
	ErrSubSectionNotFound = errors.New("subsection not found")
	ErrDuplicateTitle     = errors.New("duplicate title")
)

// SubSection is the smallest addressable unit of a source document.
type SubSection struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Medias  []*Media `json:"medias,omitempty"`
}

// Section groups subsections under a unique title.
type Section struct {
	Title       string        `json:"title"`
	SubSections []*SubSection `json:"subsections"`
}

// SubSection looks a subsection up by title.
func (s *Section) SubSection(title string) (*SubSection, error) {
	for _, sub := range s.SubSections {
		if sub.Title == title {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSubSectionNotFound, title)
}

// Document is the parsed source of a presentation. It is immutable once built,
// apart from the metadata stamp added by New.
type Document struct {
	Sections []*Section        `json:"sections"`
	Metadata map[string]string `json:"metadata"`
	ImageDir string            `json:"-"`
}

// New assembles a document and stamps the presentation date into its metadata.
func New(metadata map[string]string, sections []*Section) (*Document, error) {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	seen := make(map[string]struct{}, len(sections))
	for _, sec := range sections {
		if _, ok := seen[sec.Title]; ok {
			return nil, fmt.Errorf("%w: section %q", ErrDuplicateTitle, sec.Title)
		}
		seen[sec.Title] = struct{}{}
		subs := make(map[string]struct{}, len(sec.SubSections))
		for _, sub := range sec.SubSections {
			if _, ok := subs[sub.Title]; ok {
				return nil, fmt.Errorf("%w: subsection %q in section %q", ErrDuplicateTitle, sub.Title, sec.Title)
			}
			subs[sub.Title] = struct{}{}
		}
	}
	metadata["presentation_time"] = time.Now().Format("2006-01-02")
	return &Document{Sections: sections, Metadata: metadata}, nil
}

// FromJSON decodes a refined document and validates its medias against imageDir.
func FromJSON(data []byte, imageDir string, requireCaption bool, renderer TableRenderer) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := requireKeys(raw, "document", "sections", "metadata"); err != nil {
		return nil, err
	}
	metadata, err := DecodeMetadata(raw["metadata"])
	if err != nil {
		return nil, err
	}
	var rawSections []json.RawMessage
	if err := json.Unmarshal(raw["sections"], &rawSections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	sections := make([]*Section, 0, len(rawSections))
	for _, rs := range rawSections {
		sec, err := DecodeSection(rs)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	doc, err := New(metadata, sections)
	if err != nil {
		return nil, err
	}
	doc.ImageDir = imageDir
	for _, sec := range doc.Sections {
		if err := sec.ValidateMedias(imageDir, requireCaption, renderer); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// DecodeSection decodes one section object, checking required keys on every level.
func DecodeSection(data []byte) (*Section, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	if err := requireKeys(raw, "section", "title", "subsections"); err != nil {
		return nil, err
	}
	sec := &Section{}
	if err := json.Unmarshal(raw["title"], &sec.Title); err != nil {
		return nil, fmt.Errorf("decode section title: %w", err)
	}
	var rawSubs []map[string]json.RawMessage
	if err := json.Unmarshal(raw["subsections"], &rawSubs); err != nil {
		return nil, fmt.Errorf("decode subsections of %q: %w", sec.Title, err)
	}
	for _, rs := range rawSubs {
		if err := requireKeys(rs, "subsection", "title", "content"); err != nil {
			return nil, err
		}
		sub := &SubSection{}
		if err := json.Unmarshal(rs["title"], &sub.Title); err != nil {
			return nil, fmt.Errorf("decode subsection title: %w", err)
		}
		if err := json.Unmarshal(rs["content"], &sub.Content); err != nil {
			return nil, fmt.Errorf("decode content of %q: %w", sub.Title, err)
		}
		if m, ok := rs["medias"]; ok && string(m) != "null" {
			var rawMedias []map[string]json.RawMessage
			if err := json.Unmarshal(m, &rawMedias); err != nil {
				return nil, fmt.Errorf("decode medias of %q: %w", sub.Title, err)
			}
			for _, rm := range rawMedias {
				media, err := decodeMedia(rm)
				if err != nil {
					return nil, err
				}
				sub.Medias = append(sub.Medias, media)
			}
		}
		sec.SubSections = append(sec.SubSections, sub)
	}
	return sec, nil
}

// Section looks a section up by title.
func (d *Document) Section(title string) (*Section, error) {
	for _, sec := range d.Sections {
		if sec.Title == title {
			return sec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, title)
}

// Index resolves an ordered section index into subsections.
func (d *Document) Index(idx SectionIndex) ([]*SubSection, error) {
	var out []*SubSection
	for _, entry := range idx {
		sec, err := d.Section(entry.Section)
		if err != nil {
			return nil, err
		}
		for _, title := range entry.SubSections {
			sub, err := sec.SubSection(title)
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", entry.Section, err)
			}
			out = append(out, sub)
		}
	}
	return out, nil
}

// MetaInfo renders metadata as "key: value" lines.
func (d *Document) MetaInfo() string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+d.Metadata[k])
	}
	return strings.Join(lines, "\n")
}

// Overview is the document structure with subsection bodies elided.
type Overview struct {
	Metadata map[string]string `json:"metadata"`
	Sections []SectionOverview `json:"sections"`
}

type SectionOverview struct {
	Title       string               `json:"title"`
	SubSections []SubSectionOverview `json:"subsections"`
}

type SubSectionOverview struct {
	Title  string   `json:"title"`
	Medias []*Media `json:"medias,omitempty"`
}

// Overview keeps titles and medias so the planner prompt stays small.
func (d *Document) Overview() Overview {
	ov := Overview{Metadata: d.Metadata}
	for _, sec := range d.Sections {
		so := SectionOverview{Title: sec.Title}
		for _, sub := range sec.SubSections {
			so.SubSections = append(so.SubSections, SubSectionOverview{Title: sub.Title, Medias: sub.Medias})
		}
		ov.Sections = append(ov.Sections, so)
	}
	return ov
}

// Medias returns every media in document order.
func (d *Document) Medias() []*Media {
	var out []*Media
	for _, sec := range d.Sections {
		out = append(out, sec.Medias()...)
	}
	return out
}

func (s *Section) Medias() []*Media {
	var out []*Media
	for _, sub := range s.SubSections {
		out = append(out, sub.Medias...)
	}
	return out
}

// DecodeMetadata flattens a metadata object into strings; non-string values
// keep their JSON encoding.
func DecodeMetadata(raw json.RawMessage) (map[string]string, error) {
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch x := v.(type) {
		case string:
			out[k] = x
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(x)
			out[k] = string(b)
		}
	}
	return out, nil
}

func requireKeys(raw map[string]json.RawMessage, what string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	avail := make([]string, 0, len(raw))
	for k := range raw {
		avail = append(avail, k)
	}
	sort.Strings(avail)
	return fmt.Errorf("%s requires keys %q but they were not found, available keys: %q", what, missing, avail)
}
