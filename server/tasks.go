package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"auto_slide_generator/pptgen"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

func (s Status) terminal() bool { return s == StatusDone || s == StatusFailed }

// TaskRequest is the body of POST /api/tasks.
type TaskRequest struct {
	pptgen.Source
	NumPages int `json:"num_pages"`
}

// Snapshot is the externally visible state of a task.
type Snapshot struct {
	TaskID   string   `json:"task_id"`
	Status   Status   `json:"status"`
	Stage    string   `json:"stage"`
	Progress int      `json:"progress"`
	Error    string   `json:"error,omitempty"`
	Failed   []string `json:"failed_slides,omitempty"`
	URL      string   `json:"url,omitempty"`
	Created  string   `json:"created_at"`
}

// task is one generation tracked by the server. Watchers wait on changed,
// which is closed and replaced on every update.
type task struct {
	id      string
	req     TaskRequest
	created time.Time

	mu      sync.Mutex
	snap    Snapshot
	output  string
	changed chan struct{}
}

func newTask(id string, req TaskRequest, now time.Time) *task {
	return &task{
		id:      id,
		req:     req,
		created: now,
		snap: Snapshot{
			TaskID:  externalID(id),
			Status:  StatusPending,
			Stage:   "task created",
			Created: now.Format(time.RFC3339),
		},
		changed: make(chan struct{}),
	}
}

func (t *task) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.terminal() {
		return
	}
	fn(&t.snap)
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *task) watch() (Snapshot, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(), t.changed
}

func (t *task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *task) snapshot() Snapshot {
	s := t.snap
	s.Failed = append([]string(nil), t.snap.Failed...)
	return s
}

func (t *task) finish(output string, fn func(s *Snapshot)) {
	t.mu.Lock()
	t.output = output
	t.mu.Unlock()
	t.update(fn)
}

func (t *task) Output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

type taskStore struct {
	mu    sync.Mutex
	tasks map[string]*task
}

func newStore() *taskStore {
	return &taskStore{tasks: make(map[string]*task)}
}

func (s *taskStore) set(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.id] = t
}

func (s *taskStore) get(id string) (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// newTaskID returns YYYY-MM-DD/<uuid>; the date groups run directories.
func newTaskID(now time.Time) string {
	return now.Format("2006-01-02") + "/" + uuid.NewString()
}

// Task ids travel in URLs with "|" in place of "/".
func externalID(id string) string { return strings.ReplaceAll(id, "/", "|") }

func internalID(id string) string { return strings.ReplaceAll(id, "|", "/") }

// validID rejects anything that could escape the run directory.
func validID(id string) bool {
	date, rest, ok := strings.Cut(id, "/")
	if !ok {
		return false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
