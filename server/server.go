package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"auto_slide_generator/document"
	"auto_slide_generator/pptgen"
	"auto_slide_generator/publisher"
)

// Generator is the part of pptgen.Generator the server drives.
type Generator interface {
	LoadDocument(ctx context.Context, run pptgen.Run, src pptgen.Source) (*document.Document, error)
	GeneratePres(ctx context.Context, run pptgen.Run, doc *document.Document, numSlides int, outline []document.OutlineItem) (*pptgen.Result, error)
}

// Publisher uploads finished runs.
type Publisher interface {
	Publish(ctx context.Context, params publisher.PublishParams) (*publisher.Published, error)
}

type Options struct {
	WorkDir      string
	DefaultPages int
	// MaxTasks bounds concurrently running generations; 1 when zero.
	MaxTasks int
	// TaskTimeout of zero means no limit.
	TaskTimeout time.Duration
}

type Server struct {
	gen   Generator
	pub   Publisher
	opts  Options
	store *taskStore
	log   zerolog.Logger
	sem   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server. pub may be nil to keep runs local.
func New(gen Generator, pub Publisher, opts Options, log zerolog.Logger) (*Server, error) {
	if gen == nil {
		return nil, errors.New("generator required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("work dir required")
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = 1
	}
	if opts.DefaultPages <= 0 {
		opts.DefaultPages = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		gen:    gen,
		pub:    pub,
		opts:   opts,
		store:  newStore(),
		log:    log.With().Str("component", "server").Logger(),
		sem:    make(chan struct{}, opts.MaxTasks),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Close cancels running generations and waits for them to stop.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	mux.HandleFunc("GET /ws/{id}", s.handleProgressWS)
	mux.HandleFunc("GET /api/download", s.handleDownload)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "slide generator is running"})
	})
	return logMiddleware(s.log, mux)
}

// --- Handlers ---

type taskCreateResp struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.NumPages < 0 {
		http.Error(w, "num_pages must not be negative", http.StatusBadRequest)
		return
	}
	if req.NumPages == 0 {
		req.NumPages = s.opts.DefaultPages
	}
	now := time.Now()
	t := newTask(newTaskID(now), req, now)
	s.store.set(t)
	s.log.Info().Str("task", t.id).Int("pages", req.NumPages).Msg("task created")

	s.wg.Add(1)
	go s.run(t)
	writeJSON(w, http.StatusAccepted, taskCreateResp{TaskID: externalID(t.id)})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(internalID(r.PathValue("id")))
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := internalID(strings.TrimSpace(r.URL.Query().Get("task_id")))
	if !validID(id) {
		http.Error(w, "invalid task_id", http.StatusBadRequest)
		return
	}
	dir := s.runDir(id)
	if _, err := os.Stat(dir); err != nil {
		http.Error(w, "Task not created yet", http.StatusNotFound)
		return
	}
	var output string
	if t, ok := s.store.get(id); ok {
		output = t.Output()
	} else if matches, _ := filepath.Glob(filepath.Join(dir, pptgen.DefaultPrefix+".*")); len(matches) > 0 {
		output = matches[0]
	}
	if output == "" {
		http.Error(w, "Task not finished yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=slides%s", filepath.Ext(output)))
	http.ServeFile(w, r, output)
}

type feedbackReq struct {
	TaskID   string `json:"task_id"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := internalID(strings.TrimSpace(req.TaskID))
	if !validID(id) || strings.TrimSpace(req.Feedback) == "" {
		http.Error(w, "task_id and feedback are required", http.StatusBadRequest)
		return
	}
	dir := filepath.Join(s.opts.WorkDir, "feedback")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	path := filepath.Join(dir, externalID(id)+".txt")
	if err := os.WriteFile(path, []byte(req.Feedback), 0o644); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Feedback submitted successfully"})
}

// --- Generation ---

func (s *Server) runDir(id string) string {
	return filepath.Join(s.opts.WorkDir, filepath.FromSlash(id))
}

func (s *Server) run(t *task) {
	defer s.wg.Done()
	log := s.log.With().Str("task", t.id).Logger()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		s.fail(t, "queued", s.ctx.Err())
		return
	}
	defer func() { <-s.sem }()
	tasksActive.Inc()
	defer tasksActive.Dec()

	ctx := s.ctx
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	if stage, err := s.generate(ctx, t); err != nil {
		log.Error().Err(err).Str("stage", stage).Msg("task failed")
		s.fail(t, stage, err)
		return
	}
	tasksTotal.WithLabelValues(string(StatusDone)).Inc()
	log.Info().Dur("took", time.Since(start)).Msg("task finished")
}

func (s *Server) fail(t *task, stage string, err error) {
	tasksTotal.WithLabelValues(string(StatusFailed)).Inc()
	t.update(func(snap *Snapshot) {
		snap.Status = StatusFailed
		snap.Stage = stage
		snap.Progress = 100
		snap.Error = fmt.Sprintf("%s Error: %v", stage, err)
	})
}

func setStage(t *task, stage string, progress int) {
	t.update(func(snap *Snapshot) {
		snap.Status = StatusRunning
		snap.Stage = stage
		snap.Progress = progress
	})
}

// generate returns the stage that failed along with the error.
func (s *Server) generate(ctx context.Context, t *task) (string, error) {
	dir := s.runDir(t.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "Task Setup", err
	}
	data, err := json.MarshalIndent(t.req, "", "    ")
	if err != nil {
		return "Task Setup", err
	}
	if err := os.WriteFile(filepath.Join(dir, "task.json"), data, 0o644); err != nil {
		return "Task Setup", err
	}
	setStage(t, "task initialized successfully", 10)

	run := pptgen.Run{Dir: dir, Progress: func(p pptgen.Progress) {
		if p.Stage != "slides" || p.Total == 0 {
			return
		}
		setStage(t, "PPT Generation", 30+60*p.Done/p.Total)
	}}

	setStage(t, "Document Parsing", 20)
	doc, err := s.gen.LoadDocument(ctx, run, t.req.Source)
	if err != nil {
		return "Document Parsing", err
	}

	setStage(t, "PPT Generation", 30)
	res, err := s.gen.GeneratePres(ctx, run, doc, t.req.NumPages, nil)
	if err != nil {
		return "PPT Generation", err
	}
	var failed []string
	for _, f := range res.Failures {
		failed = append(failed, f.Error())
	}

	var url string
	if s.pub != nil {
		setStage(t, "Publishing", 95)
		pub, err := s.pub.Publish(ctx, publisher.PublishParams{RunID: t.id, Dir: dir, Output: res.Output})
		if err != nil {
			s.log.Warn().Err(err).Str("task", t.id).Msg("publishing run failed, keeping local copy")
		} else {
			url = pub.URL
		}
	}

	t.finish(res.Output, func(snap *Snapshot) {
		snap.Status = StatusDone
		snap.Stage = "Success!"
		snap.Progress = 100
		snap.Failed = failed
		snap.URL = url
	})
	return "", nil
}

// --- Progress websocket ---

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type progressMsg struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Done     bool   `json:"done,omitempty"`
	Error    string `json:"error,omitempty"`
}

func toProgressMsg(s Snapshot) progressMsg {
	msg := progressMsg{Progress: s.Progress, Status: s.Stage, Done: s.Status.terminal()}
	if s.Status == StatusFailed {
		msg.Status = s.Error
		msg.Error = s.Error
	}
	return msg
}

func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(internalID(r.PathValue("id")))
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	// Reads only serve control frames and notice the client leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	var last *progressMsg
	for {
		snap, changed := t.watch()
		msg := toProgressMsg(snap)
		if last == nil || *last != msg {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			last = &msg
		}
		if msg.Done {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
				time.Now().Add(wsWriteWait))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.code)).Inc()
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		log.Debug().Str("method", r.Method).Str("path", path).Int("code", rec.code).Dur("took", time.Since(start)).Msg("request")
	})
}
