package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. SLIDEGEN_LLM_API_KEY.
const EnvPrefix = "SLIDEGEN_"

// Config is the on-disk configuration. Environment variables override the
// file field by field.
type Config struct {
	LLM        LLMConfig        `json:"llm" envPrefix:"LLM_"`
	Generation GenerationConfig `json:"generation" envPrefix:"GEN_"`
	Storage    StorageConfig    `json:"storage" envPrefix:"S3_"`
	ServerAddr string           `json:"server_addr,omitempty" env:"SERVER_ADDR"`
	WorkDir    string           `json:"work_dir,omitempty" env:"WORK_DIR"`
	LogLevel   string           `json:"log_level,omitempty" env:"LOG_LEVEL"`
}

// LLMConfig selects the provider and models. VisionModel falls back to Model.
type LLMConfig struct {
	Provider       string `json:"provider,omitempty" env:"PROVIDER"`
	Model          string `json:"model,omitempty" env:"MODEL"`
	VisionModel    string `json:"vision_model,omitempty" env:"VISION_MODEL"`
	EmbeddingModel string `json:"embedding_model,omitempty" env:"EMBEDDING_MODEL"`
	APIKey         string `json:"api_key,omitempty" env:"API_KEY"`
	BaseURL        string `json:"base_url,omitempty" env:"BASE_URL"`
}

type GenerationConfig struct {
	// Layouts is the induction file describing the reference deck's layouts.
	Layouts string `json:"layouts,omitempty" env:"LAYOUTS"`
	// Reference is the reference deck the slides are cloned from.
	Reference  string `json:"reference,omitempty" env:"REFERENCE"`
	NumSlides  int    `json:"num_slides,omitempty" env:"NUM_SLIDES"`
	RetryTimes int    `json:"retry_times" env:"RETRY_TIMES"`
	// Concurrency above 1 synthesizes slides in parallel.
	Concurrency  int      `json:"concurrency,omitempty" env:"CONCURRENCY"`
	ForcePages   bool     `json:"force_pages,omitempty" env:"FORCE_PAGES"`
	ErrorExit    bool     `json:"error_exit,omitempty" env:"ERROR_EXIT"`
	LengthFactor float64  `json:"length_factor,omitempty" env:"LENGTH_FACTOR"`
	RecordCost   bool     `json:"record_cost,omitempty" env:"RECORD_COST"`
	TableCommand []string `json:"table_command,omitempty" env:"TABLE_COMMAND" envSeparator:" "`
}

// StorageConfig points at an S3 compatible bucket for run artifacts. An empty
// Endpoint disables uploads.
type StorageConfig struct {
	Endpoint  string `json:"endpoint,omitempty" env:"ENDPOINT"`
	AccessKey string `json:"access_key,omitempty" env:"ACCESS_KEY"`
	SecretKey string `json:"secret_key,omitempty" env:"SECRET_KEY"`
	Bucket    string `json:"bucket,omitempty" env:"BUCKET"`
	Region    string `json:"region,omitempty" env:"REGION"`
	UseSSL    bool   `json:"use_ssl,omitempty" env:"USE_SSL"`
}

func (s StorageConfig) Enabled() bool { return strings.TrimSpace(s.Endpoint) != "" }

const (
	defaultServerAddr = ":8080"
	defaultWorkDir    = "runs"
	defaultNumSlides  = 10
	defaultRetryTimes = 3
)

// Load reads .env (when present), the JSON file at path (when non-empty) and
// then the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{Generation: GenerationConfig{RetryTimes: defaultRetryTimes}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.ServerAddr == "" {
		c.ServerAddr = defaultServerAddr
	}
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	g := &c.Generation
	if g.NumSlides <= 0 {
		g.NumSlides = defaultNumSlides
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return errors.New("llm config missing; please set llm.provider/model/api_key")
	}
	switch c.LLM.Provider {
	case "openai", "deepseek", "gemini", "scripted":
	default:
		return fmt.Errorf("llm provider %s not supported", c.LLM.Provider)
	}
	if c.LLM.Provider == "deepseek" && c.LLM.BaseURL == "" {
		return errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
	}
	if c.Generation.RetryTimes < 0 {
		return errors.New("generation.retry_times must not be negative")
	}
	if c.Generation.Concurrency < 0 {
		return errors.New("generation.concurrency must not be negative")
	}
	if c.Generation.LengthFactor < 0 {
		return errors.New("generation.length_factor must not be negative")
	}
	if c.Storage.Enabled() && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage.endpoint is set")
	}
	return nil
}

// Retries is the configured retry budget; an explicit 0 disables retries.
func (g GenerationConfig) Retries() int { return g.RetryTimes }
