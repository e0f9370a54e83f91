package ingest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var tableMarkdown = goldmark.New(goldmark.WithExtensions(extension.Table))

const tableCSS = `<style>
table { border-collapse: collapse; font-family: sans-serif; font-size: 14px; }
th, td { border: 1px solid #888; padding: 4px 8px; }
th { background: #eee; }
</style>
`

// HTMLTableRenderer renders markdown tables to HTML and hands the page to an
// external rasterizer. Command is argv with {html} and {out} placeholders,
// for example wkhtmltoimage --quiet {html} {out}.
type HTMLTableRenderer struct {
	Command []string
}

// TableHTML converts a markdown table into a standalone HTML page.
func TableHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">\n")
	buf.WriteString(tableCSS)
	buf.WriteString("</head><body>\n")
	if err := tableMarkdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	buf.WriteString("</body></html>\n")
	return buf.String(), nil
}

func (r HTMLTableRenderer) RenderTable(markdown, outPath string) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("table renderer command not configured")
	}
	page, err := TableHTML(markdown)
	if err != nil {
		return fmt.Errorf("table to html: %w", err)
	}
	htmlPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".html"
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return err
	}
	defer os.Remove(htmlPath)

	args := make([]string, len(r.Command))
	for i, a := range r.Command {
		a = strings.ReplaceAll(a, "{html}", htmlPath)
		args[i] = strings.ReplaceAll(a, "{out}", outPath)
	}
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("%s produced no image: %w", args[0], err)
	}
	return nil
}
