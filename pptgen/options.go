package pptgen

import (
	"errors"
	"path/filepath"
)

const (
	DefaultRetryTimes  = 3
	DefaultConcurrency = 4
	DefaultPrefix      = "final"
	outlineFile        = "presentation_outline.json"
)

// Options tune a generation run.
type Options struct {
	// RetryTimes bounds repair attempts per stage; each stage calls the model
	// at most RetryTimes+1 times.
	RetryTimes int
	// ForcePages truncates the outline to the requested slide count.
	ForcePages bool
	// ErrorExit aborts the run, writing no presentation, on the first slide failure.
	ErrorExit bool
	// LengthFactor scales suggested text lengths; 0 disables the check.
	LengthFactor float64
	// RecordCost keeps token usage in history records.
	RecordCost bool
}

func (o Options) withDefaults() Options {
	if o.RetryTimes < 0 {
		o.RetryTimes = 0
	}
	return o
}

// DefaultOptions mirrors the usual command line defaults.
func DefaultOptions() Options {
	return Options{RetryTimes: DefaultRetryTimes}
}

// Progress is reported as slides finish.
type Progress struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Run is the directory and callbacks owned by one generation.
type Run struct {
	Dir string
	// Prefix names the output file; "final" when empty.
	Prefix   string
	Progress func(Progress)
}

func (r Run) validate() error {
	if r.Dir == "" {
		return errors.New("run directory is required")
	}
	return nil
}

func (r Run) OutlinePath() string { return filepath.Join(r.Dir, outlineFile) }

func (r Run) HistoryDir() string { return filepath.Join(r.Dir, "history") }

func (r Run) OutputPath(ext string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return filepath.Join(r.Dir, prefix+ext)
}
