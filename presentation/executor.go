package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Feedback describes why an action script failed; nil means success.
type Feedback struct {
	Message string
	Trace   string
}

// APICall is one editing call made by a script.
type APICall struct {
	SlideID int       `json:"slide_id"`
	Call    string    `json:"call"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// CodeStep is one executed script with the change it made.
type CodeStep struct {
	SlideID int       `json:"slide_id"`
	Actions string    `json:"actions"`
	Diff    []string  `json:"diff,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type apiFunc struct {
	args []argKind
	doc  string
	run  func(s *Slide, args []any) error
}

type argKind int

const (
	argInt argKind = iota
	argString
)

var apis = map[string]apiFunc{
	"del_paragraph": {
		args: []argKind{argInt, argInt},
		doc:  "del_paragraph(div_id: int, paragraph_id: int): delete a paragraph from a text element.",
		run: func(s *Slide, a []any) error {
			sh, i, err := textParagraph(s, a[0].(int), a[1].(int))
			if err != nil {
				return err
			}
			sh.Paragraphs = append(sh.Paragraphs[:i], sh.Paragraphs[i+1:]...)
			return nil
		},
	},
	"replace_paragraph": {
		args: []argKind{argInt, argInt, argString},
		doc:  "replace_paragraph(div_id: int, paragraph_id: int, text: str): replace the text of a paragraph.",
		run: func(s *Slide, a []any) error {
			sh, i, err := textParagraph(s, a[0].(int), a[1].(int))
			if err != nil {
				return err
			}
			sh.Paragraphs[i].Text = a[2].(string)
			return nil
		},
	},
	"clone_paragraph": {
		args: []argKind{argInt, argInt},
		doc:  "clone_paragraph(div_id: int, paragraph_id: int): duplicate a paragraph right after itself; the copy gets the next free paragraph id.",
		run: func(s *Slide, a []any) error {
			sh, i, err := textParagraph(s, a[0].(int), a[1].(int))
			if err != nil {
				return err
			}
			next := 0
			for _, p := range sh.Paragraphs {
				if p.ID > next {
					next = p.ID
				}
			}
			cp := &Paragraph{ID: next + 1, Text: sh.Paragraphs[i].Text}
			sh.Paragraphs = append(sh.Paragraphs[:i+1], append([]*Paragraph{cp}, sh.Paragraphs[i+1:]...)...)
			return nil
		},
	},
	"replace_image": {
		args: []argKind{argInt, argString},
		doc:  "replace_image(img_id: int, image_path: str): replace the picture of an image element.",
		run: func(s *Slide, a []any) error {
			sh, err := picture(s, a[0].(int))
			if err != nil {
				return err
			}
			path := a[1].(string)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("image %q does not exist", path)
			}
			sh.ImagePath = path
			return nil
		},
	},
	"del_image": {
		args: []argKind{argInt},
		doc:  "del_image(img_id: int): delete an image element.",
		run: func(s *Slide, a []any) error {
			if _, err := picture(s, a[0].(int)); err != nil {
				return err
			}
			s.removeShape(a[0].(int))
			return nil
		},
	},
}

var apiOrder = []string{"del_paragraph", "replace_paragraph", "clone_paragraph", "replace_image", "del_image"}

func textParagraph(s *Slide, shapeID, paraID int) (*Shape, int, error) {
	sh, err := s.Shape(shapeID)
	if err != nil {
		return nil, -1, err
	}
	if sh.Kind == ShapePicture {
		return nil, -1, fmt.Errorf("element %d is an image, not a text element", shapeID)
	}
	i, err := sh.paragraph(paraID)
	return sh, i, err
}

func picture(s *Slide, id int) (*Shape, error) {
	sh, err := s.Shape(id)
	if err != nil {
		return nil, err
	}
	if sh.Kind != ShapePicture {
		return nil, fmt.Errorf("element %d is not an image", id)
	}
	return sh, nil
}

// Executor runs edit-action scripts against slides through a fixed API and
// keeps a record of every call. Safe for concurrent use.
type Executor struct {
	mu         sync.Mutex
	agentSteps []APICall
	codeSteps  []CodeStep
}

func NewExecutor() *Executor { return &Executor{} }

// APIDocs documents the editing API offered to scripts.
func (e *Executor) APIDocs() string {
	lines := make([]string, 0, len(apiOrder))
	for _, name := range apiOrder {
		lines = append(lines, apis[name].doc)
	}
	return strings.Join(lines, "\n")
}

var callLine = regexp.MustCompile(`^([a-z_]+)\((.*)\)\s*;?$`)

// Execute applies actions to slide in place. The slide is left partially
// edited on failure, so callers execute against a clone.
func (e *Executor) Execute(actions string, slide *Slide) *Feedback {
	before := slide.HTML()
	step := CodeStep{SlideID: slide.ID, Actions: actions, At: time.Now()}
	fb := e.run(actions, slide)
	if fb != nil {
		step.Error = fb.Message
	}
	step.Diff = lineDiff(before, slide.HTML())

	e.mu.Lock()
	e.codeSteps = append(e.codeSteps, step)
	e.mu.Unlock()
	return fb
}

func (e *Executor) run(actions string, slide *Slide) *Feedback {
	var done []string
	calls := 0
	for n, raw := range strings.Split(actions, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		calls++
		err := e.call(line, slide)
		e.record(slide.ID, line, err)
		if err != nil {
			return &Feedback{
				Message: fmt.Sprintf("line %d: %s: %v", n+1, line, err),
				Trace:   traceOf(done, n+1, line, err),
			}
		}
		done = append(done, line)
	}
	if calls == 0 {
		return &Feedback{Message: "no API calls found", Trace: "the answer must contain API calls, one per line:\n" + e.APIDocs()}
	}
	return nil
}

func (e *Executor) call(line string, slide *Slide) error {
	m := callLine.FindStringSubmatch(line)
	if m == nil {
		return errors.New("not an API call")
	}
	api, ok := apis[m[1]]
	if !ok {
		return fmt.Errorf("unknown API %q, available: %s", m[1], strings.Join(apiOrder, ", "))
	}
	raw, err := splitArgs(m[2])
	if err != nil {
		return err
	}
	if len(raw) != len(api.args) {
		return fmt.Errorf("%s takes %d arguments, got %d", m[1], len(api.args), len(raw))
	}
	args := make([]any, len(raw))
	for i, kind := range api.args {
		switch kind {
		case argInt:
			v, err := strconv.Atoi(raw[i])
			if err != nil {
				return fmt.Errorf("argument %d of %s must be an integer, got %s", i+1, m[1], raw[i])
			}
			args[i] = v
		case argString:
			v, err := unquote(raw[i])
			if err != nil {
				return fmt.Errorf("argument %d of %s must be a quoted string: %v", i+1, m[1], err)
			}
			args[i] = v
		}
	}
	return api.run(slide, args)
}

// splitArgs splits a call's argument list at top-level commas.
func splitArgs(s string) ([]string, error) {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case ',':
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated string")
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(out) > 0 {
		out = append(out, last)
	}
	return out, nil
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		inner := strings.ReplaceAll(s[1:len(s)-1], `\'`, `'`)
		s = `"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`
	}
	return strconv.Unquote(s)
}

func traceOf(done []string, line int, call string, err error) string {
	var b strings.Builder
	if len(done) > 0 {
		b.WriteString("executed successfully:\n")
		for _, d := range done {
			b.WriteString("  " + d + "\n")
		}
	}
	fmt.Fprintf(&b, "failed at line %d:\n  %s\n%v", line, call, err)
	return b.String()
}

func (e *Executor) record(slideID int, call string, err error) {
	c := APICall{SlideID: slideID, Call: call, At: time.Now()}
	if err != nil {
		c.Error = err.Error()
	}
	e.mu.Lock()
	e.agentSteps = append(e.agentSteps, c)
	e.mu.Unlock()
}

func lineDiff(before, after string) []string {
	if before == after {
		return nil
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	var out []string
	for _, d := range diffs {
		prefix := ""
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		default:
			continue
		}
		for _, l := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, prefix+l)
		}
	}
	return out
}

func (e *Executor) AgentSteps() []APICall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]APICall(nil), e.agentSteps...)
}

func (e *Executor) CodeSteps() []CodeStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CodeStep(nil), e.codeSteps...)
}

// WriteSteps writes code_steps.jsonl and agent_steps.jsonl into dir when
// there is anything to write.
func (e *Executor) WriteSteps(dir string) error {
	code, agent := e.CodeSteps(), e.AgentSteps()
	if len(code) == 0 {
		return nil
	}
	if err := writeJSONL(filepath.Join(dir, "code_steps.jsonl"), code); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, "agent_steps.jsonl"), agent)
}

func writeJSONL[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
