package pptgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"auto_slide_generator/layout"
)

var ErrNoCommands = errors.New("no commands generated")

// Command is the change one layout element needs: its bound content before
// and after, and the difference in item count.
type Command struct {
	Element        string
	Type           string
	QuantityChange int
	Old            []any
	New            []any
}

func (c Command) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s, %s)",
		quote(c.Element), quote(c.Type), quote(fmt.Sprintf("quantity_change: %d", c.QuantityChange)),
		list(c.Old), list(c.New))
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func list(items []any) string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return fmt.Sprint(items)
	}
	return strings.TrimSpace(buf.String())
}

// GenerateCommands diffs a validated proposal against the layout's bound
// content, one command per schema element in schema order.
func GenerateCommands(p layout.Proposal, l layout.Layout) ([]Command, error) {
	old := l.OldData(p)
	var cmds []Command
	for _, el := range l.ContentSchema() {
		before := layout.AsList(old[el.Name])
		after := p.Items(el.Name)
		cmds = append(cmds, Command{
			Element:        el.Name,
			Type:           el.Type,
			QuantityChange: len(after) - len(before),
			Old:            before,
			New:            after,
		})
	}
	if len(cmds) == 0 {
		return nil, ErrNoCommands
	}
	return cmds, nil
}

// CommandList renders commands one per line for the coder.
func CommandList(cmds []Command) string {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}
