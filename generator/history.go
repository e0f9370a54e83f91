package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record is one model invocation.
type Record struct {
	Role       string    `json:"role"`
	Attempt    int       `json:"attempt"`
	System     string    `json:"system,omitempty"`
	Prompt     string    `json:"prompt"`
	Images     []string  `json:"images,omitempty"`
	Output     string    `json:"output"`
	Feedback   string    `json:"feedback,omitempty"`
	Error      string    `json:"error,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// History accumulates records from every agent of a run. Safe for concurrent use.
type History struct {
	// RecordCost keeps token usage on each record.
	RecordCost bool

	mu      sync.Mutex
	records []Record
}

func NewHistory(recordCost bool) *History {
	return &History{RecordCost: recordCost}
}

func (h *History) Append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.RecordCost {
		r.Usage = nil
	}
	h.records = append(h.records, r)
}

func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// ByRole groups records by role, keeping append order inside each group.
func (h *History) ByRole() map[string][]Record {
	out := map[string][]Record{}
	for _, r := range h.Records() {
		out[r.Role] = append(out[r.Role], r)
	}
	return out
}

// Cost sums recorded token usage.
func (h *History) Cost() Usage {
	var total Usage
	for _, r := range h.Records() {
		if r.Usage != nil {
			total.PromptTokens += r.Usage.PromptTokens
			total.CompletionTokens += r.Usage.CompletionTokens
		}
	}
	return total
}

func (h *History) Clear() {
	h.mu.Lock()
	h.records = nil
	h.mu.Unlock()
}

// Save writes <dir>/<role>.json for every role seen and returns the roles written.
func (h *History) Save(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	groups := h.ByRole()
	roles := make([]string, 0, len(groups))
	for role := range groups {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		data, err := json.MarshalIndent(groups[role], "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, role+".json"), data, 0o644); err != nil {
			return nil, fmt.Errorf("write history %s: %w", role, err)
		}
	}
	return roles, nil
}
