package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"auto_slide_generator/config"
	"auto_slide_generator/generator"
	"auto_slide_generator/ingest"
	"auto_slide_generator/layout"
	"auto_slide_generator/pptgen"
	"auto_slide_generator/presentation"
	"auto_slide_generator/publisher"
	"auto_slide_generator/server"
)

var verbose bool

func main() {
	configPath := flag.String("config", "config/config.json", "path to config.json")
	docPath := flag.String("doc", "", "path to a refined document JSON")
	mdPath := flag.String("md", "", "path to a markdown document")
	topic := flag.String("topic", "", "generate the source document from a topic")
	imageDir := flag.String("images", "", "directory resolving relative media paths (defaults to the markdown's directory)")
	pages := flag.Int("pages", 0, "number of slides (overrides generation.num_slides)")
	outDir := flag.String("out", "", "run directory (defaults to <work_dir>/<date>/<uuid>)")
	prefix := flag.String("prefix", pptgen.DefaultPrefix, "output file name without extension")
	publish := flag.Bool("publish", false, "upload the run directory to the configured storage")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides config.server_addr)")
	flag.BoolVar(&verbose, "v", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := buildGenerator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	// Web server mode
	if *serve {
		listen := cfg.ServerAddr
		if *addr != "" {
			listen = *addr
		}
		if err := runServer(ctx, cfg, gen, listen, log); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
		return
	}

	src, err := buildSource(*docPath, *mdPath, *topic, *imageDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	runID := time.Now().Format("2006-01-02") + "/" + uuid.NewString()
	dir := *outDir
	if dir == "" {
		dir = filepath.Join(cfg.WorkDir, filepath.FromSlash(runID))
	}
	numSlides := cfg.Generation.NumSlides
	if *pages > 0 {
		numSlides = *pages
	}
	run := pptgen.Run{Dir: dir, Prefix: *prefix, Progress: func(p pptgen.Progress) {
		log.Info().Str("stage", p.Stage).Int("done", p.Done).Int("total", p.Total).Msg("progress")
	}}

	log.Info().Str("run", dir).Int("slides", numSlides).Msg("[cli] generating")
	doc, err := gen.LoadDocument(ctx, run, src)
	if err != nil {
		log.Fatal().Err(err).Msg("document")
	}
	res, err := gen.GeneratePres(ctx, run, doc, numSlides, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("generation failed")
	}
	for _, f := range res.Failures {
		log.Warn().Err(f).Msg("slide skipped")
	}
	log.Info().
		Int("slides", len(res.Slides)).
		Int64("prompt_tokens", res.Cost.PromptTokens).
		Int64("completion_tokens", res.Cost.CompletionTokens).
		Msg("[cli] generation done")

	if *publish {
		pub, err := buildPublisher(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("publisher")
		}
		if pub == nil {
			log.Fatal().Msg("--publish needs storage.endpoint in config")
		}
		out, err := pub.Publish(ctx, publisher.PublishParams{RunID: runID, Dir: dir, Output: res.Output})
		if err != nil {
			log.Fatal().Err(err).Msg("publish failed")
		}
		log.Info().Int("objects", len(out.Objects)).Str("url", out.URL).Msg("[cli] publish done")
	}
	fmt.Println(res.Output)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func buildSource(docPath, mdPath, topic, imageDir string) (pptgen.Source, error) {
	var src pptgen.Source
	switch {
	case docPath != "":
		data, err := os.ReadFile(docPath)
		if err != nil {
			return src, err
		}
		src.Document = data
		if imageDir == "" {
			imageDir = filepath.Dir(docPath)
		}
	case mdPath != "":
		data, err := os.ReadFile(mdPath)
		if err != nil {
			return src, err
		}
		src.Markdown = string(data)
		if imageDir == "" {
			imageDir = filepath.Dir(mdPath)
		}
	case topic != "":
		src.Topic = topic
	default:
		return src, errors.New("one of --doc, --md or --topic is required")
	}
	src.ImageDir = imageDir
	return src, src.Validate()
}

func buildGenerator(ctx context.Context, cfg config.Config, log zerolog.Logger) (*pptgen.Generator, error) {
	models, err := buildModels(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if cfg.Generation.Layouts == "" || cfg.Generation.Reference == "" {
		return nil, errors.New("generation.layouts and generation.reference are required")
	}
	layouts, err := layout.LoadRegistry(cfg.Generation.Layouts)
	if err != nil {
		return nil, err
	}
	deck, err := presentation.Load(cfg.Generation.Reference)
	if err != nil {
		return nil, err
	}
	var strategy pptgen.Strategy = pptgen.Sequential{}
	if cfg.Generation.Concurrency > 1 {
		strategy = pptgen.Concurrent{Limit: cfg.Generation.Concurrency}
	}
	pcfg := pptgen.Config{
		Models:    models,
		Layouts:   layouts,
		Reference: deck,
		Strategy:  strategy,
		Options: pptgen.Options{
			RetryTimes:   cfg.Generation.Retries(),
			ForcePages:   cfg.Generation.ForcePages,
			ErrorExit:    cfg.Generation.ErrorExit,
			LengthFactor: cfg.Generation.LengthFactor,
			RecordCost:   cfg.Generation.RecordCost,
		},
		Logger: log,
	}
	if len(cfg.Generation.TableCommand) > 0 {
		pcfg.TableRenderer = ingest.HTMLTableRenderer{Command: cfg.Generation.TableCommand}
	}
	return pptgen.New(ctx, pcfg)
}

// buildModels wires the configured provider. The vision model falls back to
// the language model, embeddings are optional.
func buildModels(ctx context.Context, c config.LLMConfig) (generator.Models, error) {
	if c.Provider == "" {
		return generator.Models{}, errors.New("llm config missing; please set llm.provider/model/api_key in config")
	}
	settings := func(model, embedding string) *generator.LLMSettings {
		return &generator.LLMSettings{
			Provider:       c.Provider,
			Model:          model,
			EmbeddingModel: embedding,
			APIKey:         c.APIKey,
			BaseURL:        c.BaseURL,
		}
	}
	var models generator.Models
	switch c.Provider {
	case "openai", "deepseek":
		// DeepSeek and other gateways speak the OpenAI protocol through base_url.
		if c.Model == "" {
			return models, errors.New("llm.model is required")
		}
		lang, err := generator.NewOpenAILLMFromConfig(settings(c.Model, c.EmbeddingModel))
		if err != nil {
			return models, err
		}
		models.Language = lang
		if c.EmbeddingModel != "" {
			models.Embedder = lang
		}
		if c.VisionModel != "" {
			vision, err := generator.NewOpenAILLMFromConfig(settings(c.VisionModel, ""))
			if err != nil {
				return models, err
			}
			models.Vision = vision
		}
	case "gemini":
		if c.Model == "" {
			return models, errors.New("llm.model is required")
		}
		lang, err := generator.NewGeminiLLMFromConfig(ctx, settings(c.Model, c.EmbeddingModel))
		if err != nil {
			return models, err
		}
		models.Language = lang
		if c.EmbeddingModel != "" {
			models.Embedder = lang
		}
		if c.VisionModel != "" {
			vision, err := generator.NewGeminiLLMFromConfig(ctx, settings(c.VisionModel, ""))
			if err != nil {
				return models, err
			}
			models.Vision = vision
		}
	case "scripted":
		// Answers nothing; checks the wiring without network access.
		models.Language = &generator.ScriptedLLM{}
	default:
		return models, fmt.Errorf("llm provider %s not supported", c.Provider)
	}
	return models.Resolve()
}

// buildPublisher returns nil when no storage is configured.
func buildPublisher(cfg config.Config, log zerolog.Logger) (*publisher.Publisher, error) {
	if !cfg.Storage.Enabled() {
		return nil, nil
	}
	store, err := publisher.NewS3Store(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return publisher.New(store, verbose, log)
}

func runServer(ctx context.Context, cfg config.Config, gen *pptgen.Generator, listen string, log zerolog.Logger) error {
	pub, err := buildPublisher(cfg, log)
	if err != nil {
		return err
	}
	var sp server.Publisher
	if pub != nil {
		sp = pub
	}
	srv, err := server.New(gen, sp, server.Options{
		WorkDir:      cfg.WorkDir,
		DefaultPages: cfg.Generation.NumSlides,
	}, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	hs := &http.Server{Addr: listen, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listen).Msg("starting web server")
		errCh <- hs.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdown)
}
