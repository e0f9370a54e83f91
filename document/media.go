package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrMediaNotFound = errors.New("media file not found")

// TableRenderer rasterizes a markdown table into an image file.
type TableRenderer interface {
	RenderTable(markdown, outPath string) error
}

// Media is an image or a table cut out of the source document. Tables carry no
// path until they are rendered.
type Media struct {
	MarkdownContent string `json:"markdown_content"`
	MarkdownCaption string `json:"markdown_caption"`
	Path            string `json:"path,omitempty"`
	Caption         string `json:"caption,omitempty"`
	Table           bool   `json:"table,omitempty"`
}

func decodeMedia(raw map[string]json.RawMessage) (*Media, error) {
	if err := requireKeys(raw, "media", "markdown_content", "markdown_caption"); err != nil {
		return nil, err
	}
	m := &Media{}
	if err := json.Unmarshal(raw["markdown_content"], &m.MarkdownContent); err != nil {
		return nil, fmt.Errorf("decode markdown_content: %w", err)
	}
	if err := json.Unmarshal(raw["markdown_caption"], &m.MarkdownCaption); err != nil {
		return nil, fmt.Errorf("decode markdown_caption: %w", err)
	}
	if p, ok := raw["path"]; ok && string(p) != "null" {
		if err := json.Unmarshal(p, &m.Path); err != nil {
			return nil, fmt.Errorf("decode media path: %w", err)
		}
	}
	if c, ok := raw["caption"]; ok && string(c) != "null" {
		if err := json.Unmarshal(c, &m.Caption); err != nil {
			return nil, fmt.Errorf("decode media caption: %w", err)
		}
	}
	if t, ok := raw["table"]; ok && string(t) != "null" {
		if err := json.Unmarshal(t, &m.Table); err != nil {
			return nil, fmt.Errorf("decode media table flag: %w", err)
		}
	}
	if m.Path == "" {
		if !strings.Contains(m.MarkdownContent, "---") {
			return nil, fmt.Errorf("media without path must be a table: %q", m.MarkdownCaption)
		}
		m.Table = true
	}
	return m, nil
}

// ToImage renders a table media into imageDir and records the resulting path.
func (m *Media) ToImage(imageDir string, renderer TableRenderer) (string, error) {
	if renderer == nil {
		return "", errors.New("no table renderer configured")
	}
	if m.Path == "" {
		m.Path = filepath.Join(imageDir, "table_"+uuid.NewString()[:4]+".png")
	}
	if err := renderer.RenderTable(m.MarkdownContent, m.Path); err != nil {
		return "", fmt.Errorf("render table %q: %w", m.MarkdownCaption, err)
	}
	return m.Path, nil
}

// ValidateMedias renders pending tables, resolves image paths against imageDir
// and enforces captions when requireCaption is set.
func (s *Section) ValidateMedias(imageDir string, requireCaption bool, renderer TableRenderer) error {
	for _, m := range s.Medias() {
		switch {
		case m.Path == "":
			if _, err := m.ToImage(imageDir, renderer); err != nil {
				return err
			}
		case !exists(m.Path):
			alt := filepath.Join(imageDir, m.Path)
			if !exists(alt) {
				return fmt.Errorf("%w: %s, leave path null for tables and use a real path for images", ErrMediaNotFound, m.Path)
			}
			m.Path = alt
		}
		if requireCaption && m.Caption == "" {
			return fmt.Errorf("caption is required for media: %s", m.Path)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
