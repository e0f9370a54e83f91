package document

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// Chunk is a slice of a markdown document that starts at a top-level heading.
type Chunk struct {
	Header  string
	Content string
}

// Text joins the header back onto the chunk body.
func (c Chunk) Text() string {
	if c.Header == "" {
		return c.Content
	}
	return c.Header + "\n" + c.Content
}

type headingMark struct {
	level      int
	start, end int
}

// SplitMarkdown cuts md at its shallowest heading level. Headings inside code
// blocks, lists or quotes do not split.
func SplitMarkdown(md string) []Chunk {
	src := []byte(md)
	root := markdown.Parser().Parse(text.NewReader(src))

	var heads []headingMark
	minLevel := 7
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		end := len(src)
		if i := bytes.IndexByte(src[seg.Stop:], '\n'); i >= 0 {
			end = seg.Stop + i
		}
		heads = append(heads, headingMark{level: h.Level, start: start, end: end})
		if h.Level < minLevel {
			minLevel = h.Level
		}
	}

	var top []headingMark
	for _, h := range heads {
		if h.level == minLevel {
			top = append(top, h)
		}
	}
	if len(top) == 0 {
		if strings.TrimSpace(md) == "" {
			return nil
		}
		return []Chunk{{Content: strings.Trim(md, "\n")}}
	}

	var chunks []Chunk
	if pre := strings.Trim(string(src[:top[0].start]), "\n"); strings.TrimSpace(pre) != "" {
		chunks = append(chunks, Chunk{Content: pre})
	}
	for i, h := range top {
		next := len(src)
		if i+1 < len(top) {
			next = top[i+1].start
		}
		body := ""
		if h.end < next {
			body = string(src[h.end:next])
		}
		chunks = append(chunks, Chunk{
			Header:  strings.TrimSpace(string(src[h.start:h.end])),
			Content: strings.Trim(body, "\n"),
		})
	}
	return chunks
}

// CountMedias counts images and tables in md.
func CountMedias(md string) int {
	src := []byte(md)
	root := markdown.Parser().Parse(text.NewReader(src))
	count := 0
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Image, *east.Table:
			count++
		}
		return ast.WalkContinue, nil
	})
	return count
}
