package pptgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"auto_slide_generator/document"
	"auto_slide_generator/generator"
	"auto_slide_generator/layout"
	"auto_slide_generator/presentation"
)

var staffRoles = []string{"planner", "layout_selector", "editor", "coder"}

// Config wires a Generator. Models must already be resolved.
type Config struct {
	Models    generator.Models
	Roles     map[string]*generator.Role
	Layouts   *layout.Registry
	Reference presentation.Presentation
	// Strategy defaults to Sequential.
	Strategy Strategy
	// Selector defaults to AgentSelector for sequential runs and to
	// EmbeddingSelector for concurrent runs when an embedder is configured.
	Selector LayoutSelector
	// TableRenderer rasterizes tables of ingested documents.
	TableRenderer document.TableRenderer
	Options Options
	Logger  zerolog.Logger
}

// Generator builds presentations from documents against one reference deck.
// It holds no per-run state and may serve concurrent runs.
type Generator struct {
	cfg      Config
	opts     Options
	strategy Strategy
	selector LayoutSelector
	log      zerolog.Logger
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.Models.Language == nil {
		return nil, errors.New("language model is required")
	}
	if cfg.Layouts == nil || cfg.Layouts.Len() == 0 {
		return nil, errors.New("layout registry is required")
	}
	if cfg.Reference == nil {
		return nil, errors.New("reference presentation is required")
	}
	if cfg.Roles == nil {
		roles, err := generator.LoadRoles()
		if err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
		cfg.Roles = roles
	}
	g := &Generator{
		cfg:      cfg,
		opts:     cfg.Options.withDefaults(),
		strategy: cfg.Strategy,
		selector: cfg.Selector,
		log:      cfg.Logger.With().Str("component", "pptgen").Logger(),
	}
	if g.strategy == nil {
		g.strategy = Sequential{}
	}
	if g.selector == nil {
		_, concurrent := g.strategy.(Concurrent)
		if concurrent && cfg.Models.Embedder != nil {
			sel, err := NewEmbeddingSelector(ctx, cfg.Layouts, cfg.Models.Embedder)
			if err != nil {
				return nil, fmt.Errorf("layout matcher: %w", err)
			}
			g.selector = sel
		} else {
			g.selector = &AgentSelector{Layouts: cfg.Layouts, Retries: g.opts.RetryTimes}
		}
	}
	return g, nil
}

// SlideError is a slide that could not be generated.
type SlideError struct {
	Index int
	Title string
	Err   error
}

func (e *SlideError) Error() string {
	return fmt.Sprintf("slide %d (%s): %v", e.Index+1, e.Title, e.Err)
}

func (e *SlideError) Unwrap() error { return e.Err }

// Result is what a run produced.
type Result struct {
	Outline  []document.OutlineItem
	Slides   []*presentation.Slide
	Failures []*SlideError
	// Output is the saved presentation path, empty when nothing was written.
	Output string
	Cost   generator.Usage
}

// GeneratePres plans (or reuses) an outline, synthesizes every slide with the
// configured strategy and saves the presentation into the run directory.
// History is written whatever the outcome.
func (g *Generator) GeneratePres(ctx context.Context, run Run, doc *document.Document, numSlides int, outline []document.OutlineItem) (res *Result, err error) {
	if err := run.validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("document is required")
	}
	log := g.log.With().Str("run", run.Dir).Str("strategy", g.strategy.Name()).Logger()

	history := generator.NewHistory(g.opts.RecordCost)
	staff, err := generator.NewStaff(g.cfg.Roles, g.cfg.Models, history, log, staffRoles...)
	if err != nil {
		return nil, err
	}
	exec := presentation.NewExecutor()
	res = &Result{}

	defer func() {
		if ferr := g.flush(run, history, exec); ferr != nil {
			log.Error().Err(ferr).Msg("saving run history failed")
			err = errors.Join(err, ferr)
		}
		res.Cost = history.Cost()
		outcome := "ok"
		switch {
		case err != nil && res.Outline == nil:
			outcome = "failed"
		case err != nil:
			outcome = "aborted"
		case len(res.Failures) > 0:
			outcome = "partial"
		}
		runsTotal.WithLabelValues(outcome).Inc()
	}()

	if outline == nil {
		planner := &Planner{Selector: g.selector, Layouts: g.cfg.Layouts.Names(), Retries: g.opts.RetryTimes, Log: log}
		outline, err = planner.Outline(ctx, run, staff, doc, numSlides)
		if err != nil {
			return res, err
		}
	} else {
		outline = append([]document.OutlineItem(nil), outline...)
		if err := g.selector.CheckOutline(ctx, outline); err != nil {
			return res, fmt.Errorf("provided outline: %w", err)
		}
		outlinesTotal.WithLabelValues("provided").Inc()
	}
	if g.opts.ForcePages && numSlides > 0 && len(outline) > numSlides {
		outline = outline[:numSlides]
	}
	res.Outline = outline

	s := &synthesizer{
		doc:      doc,
		outline:  outline,
		summary:  document.SimpleOutline(outline),
		staff:    staff,
		selector: g.selector,
		deck:     g.cfg.Reference,
		exec:     exec,
		opts:     g.opts,
		log:      log,
	}
	slots := make([]*presentation.Slide, len(outline))
	var (
		mu   sync.Mutex
		done int
	)
	report(run, Progress{Stage: "slides", Total: len(outline)})
	errs := g.strategy.Run(ctx, len(outline), func(ctx context.Context, i int) error {
		slide, err := s.slide(ctx, i)
		if err == nil {
			slots[i] = slide
		}
		mu.Lock()
		done++
		report(run, Progress{Stage: "slides", Done: done, Total: len(outline)})
		mu.Unlock()
		return err
	}, g.opts.ErrorExit)

	for i, e := range errs {
		if e != nil {
			res.Failures = append(res.Failures, &SlideError{Index: i, Title: outline[i].Title, Err: e})
		}
	}
	for _, sl := range slots {
		if sl != nil {
			res.Slides = append(res.Slides, sl)
		}
	}
	for _, f := range res.Failures {
		log.Warn().Err(f.Err).Int("slide", f.Index+1).Msg("slide generation failed")
	}

	if g.opts.ErrorExit && len(res.Failures) > 0 {
		return res, res.Failures[0]
	}
	out := run.OutputPath(g.cfg.Reference.Extension())
	if err := g.cfg.Reference.Save(out, res.Slides); err != nil {
		return res, fmt.Errorf("save presentation: %w", err)
	}
	res.Output = out
	report(run, Progress{Stage: "done", Done: len(outline), Total: len(outline)})
	log.Info().Int("slides", len(res.Slides)).Int("failed", len(res.Failures)).Str("output", out).Msg("presentation saved")
	return res, nil
}

func (g *Generator) flush(run Run, history *generator.History, exec *presentation.Executor) error {
	defer history.Clear()
	if _, err := history.Save(run.HistoryDir()); err != nil {
		return err
	}
	return exec.WriteSteps(run.Dir)
}

func report(run Run, p Progress) {
	if run.Progress != nil {
		run.Progress(p)
	}
}

type synthesizer struct {
	doc      *document.Document
	outline  []document.OutlineItem
	summary  string
	staff    *generator.Staff
	selector LayoutSelector
	deck     presentation.Presentation
	exec     *presentation.Executor
	opts     Options
	log      zerolog.Logger
}

type edit struct {
	proposal layout.Proposal
	commands []Command
}

// slide walks one outline item through retrieve, select, edit, diff, code
// and execute.
func (s *synthesizer) slide(ctx context.Context, idx int) (slide *presentation.Slide, err error) {
	start := time.Now()
	defer func() {
		slideDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slidesTotal.WithLabelValues("failed").Inc()
			return
		}
		slidesTotal.WithLabelValues("ok").Inc()
	}()
	item := s.outline[idx]

	content, err := item.Retrieve(idx, s.doc)
	if err != nil {
		return nil, err
	}
	lay, err := s.selector.Select(ctx, s.staff, item, content)
	if err != nil {
		return nil, s.stage("select", err)
	}

	editor, err := s.staff.Agent("editor")
	if err != nil {
		return nil, err
	}
	ed, err := generator.CallJSON(ctx, editor, s.opts.RetryTimes, map[string]any{
		"schema":   lay.ContentSchema(),
		"outline":  s.summary,
		"metadata": s.doc.MetaInfo(),
		"text":     content,
	}, func(raw []byte) (edit, error) {
		p, err := layout.ParseProposal(raw)
		if err != nil {
			return edit{}, err
		}
		if err := lay.Validate(p, s.opts.LengthFactor, s.doc.ImageDir); err != nil {
			return edit{}, err
		}
		cmds, err := GenerateCommands(p, lay)
		if err != nil {
			return edit{}, err
		}
		return edit{proposal: p, commands: cmds}, nil
	})
	if err != nil {
		return nil, s.stage("edit", err)
	}

	template, err := s.deck.Slide(lay.SlideID(ed.proposal))
	if err != nil {
		return nil, err
	}
	coder, err := s.staff.Agent("coder")
	if err != nil {
		return nil, err
	}
	conv, err := coder.Call(ctx, map[string]any{
		"api_docs":     s.exec.APIDocs(),
		"edit_target":  template.HTML(),
		"command_list": CommandList(ed.commands),
	})
	if err != nil {
		return nil, err
	}
	slide, err = generator.Repair(ctx, conv, s.opts.RetryTimes, func(actions string) (*presentation.Slide, error) {
		edited := template.Clone()
		if fb := s.exec.Execute(actions, edited); fb != nil {
			return nil, &generator.Feedback{Message: fb.Message, Trace: fb.Trace}
		}
		return edited, nil
	})
	if err != nil {
		return nil, s.stage("code", err)
	}
	slide.Layout = lay.Name()
	s.log.Debug().Int("slide", idx+1).Str("layout", lay.Name()).Dur("took", time.Since(start)).Msg("slide generated")
	return slide, nil
}

func (s *synthesizer) stage(name string, err error) error {
	if errors.Is(err, generator.ErrRetriesExhausted) {
		exhaustedTotal.WithLabelValues(name).Inc()
	}
	return fmt.Errorf("%s: %w", name, err)
}
