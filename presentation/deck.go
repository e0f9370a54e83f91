package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

var ErrSlideNotFound = errors.New("slide not found")

const (
	ShapeText    = "text"
	ShapePicture = "picture"
)

// Presentation is the reference deck a run edits and the codec that writes the result.
type Presentation interface {
	// Slide returns a 1-based template slide. Callers must Clone before editing.
	Slide(id int) (*Slide, error)
	Save(path string, slides []*Slide) error
	Extension() string
}

type Paragraph struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type Shape struct {
	ID         int          `json:"id"`
	Kind       string       `json:"kind"`
	Name       string       `json:"name,omitempty"`
	Paragraphs []*Paragraph `json:"paragraphs,omitempty"`
	ImagePath  string       `json:"image_path,omitempty"`
	Caption    string       `json:"caption,omitempty"`
}

type Slide struct {
	ID     int      `json:"id"`
	Layout string   `json:"layout,omitempty"`
	Shapes []*Shape `json:"shapes"`
}

func (s *Slide) Clone() *Slide {
	out := &Slide{ID: s.ID, Layout: s.Layout, Shapes: make([]*Shape, len(s.Shapes))}
	for i, sh := range s.Shapes {
		cp := *sh
		cp.Paragraphs = make([]*Paragraph, len(sh.Paragraphs))
		for j, p := range sh.Paragraphs {
			pp := *p
			cp.Paragraphs[j] = &pp
		}
		out.Shapes[i] = &cp
	}
	return out
}

func (s *Slide) Shape(id int) (*Shape, error) {
	for _, sh := range s.Shapes {
		if sh.ID == id {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("element %d not found on slide %d", id, s.ID)
}

func (s *Slide) removeShape(id int) {
	for i, sh := range s.Shapes {
		if sh.ID == id {
			s.Shapes = append(s.Shapes[:i], s.Shapes[i+1:]...)
			return
		}
	}
}

func (sh *Shape) paragraph(id int) (int, error) {
	for i, p := range sh.Paragraphs {
		if p.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("paragraph %d not found in element %d", id, sh.ID)
}

// HTML renders the slide structure the way the editing API addresses it.
func (s *Slide) HTML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<div class=\"slide\" data-slide-id=\"%d\">\n", s.ID)
	for _, sh := range s.Shapes {
		switch sh.Kind {
		case ShapePicture:
			fmt.Fprintf(&b, "<img id=\"%d\" alt=\"%s\" src=\"%s\"/>\n",
				sh.ID, html.EscapeString(sh.Caption), html.EscapeString(sh.ImagePath))
		default:
			fmt.Fprintf(&b, "<div id=\"%d\" class=\"%s\">\n", sh.ID, html.EscapeString(sh.Name))
			for _, p := range sh.Paragraphs {
				fmt.Fprintf(&b, "  <p id=\"%d\">%s</p>\n", p.ID, html.EscapeString(p.Text))
			}
			b.WriteString("</div>\n")
		}
	}
	b.WriteString("</div>")
	return b.String()
}

// Deck is a JSON encoded presentation.
type Deck struct {
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	Slides []*Slide `json:"slides"`
}

func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presentation: %w", err)
	}
	var d Deck
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode presentation %s: %w", path, err)
	}
	if len(d.Slides) == 0 {
		return nil, fmt.Errorf("presentation %s has no slides", path)
	}
	return &d, nil
}

func (d *Deck) Slide(id int) (*Slide, error) {
	if id < 1 || id > len(d.Slides) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSlideNotFound, id, len(d.Slides))
	}
	return d.Slides[id-1], nil
}

// CloneLayout copies the deck settings without any slides.
func (d *Deck) CloneLayout() *Deck {
	return &Deck{Width: d.Width, Height: d.Height}
}

func (d *Deck) Save(path string, slides []*Slide) error {
	out := d.CloneLayout()
	out.Slides = slides
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Deck) Extension() string { return ".json" }
