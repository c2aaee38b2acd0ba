package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full application configuration. Defaults cover a local
// single-node deployment; production overrides arrive via TOML file,
// SCRIBA_* environment variables, then CLI flags, in that priority order.
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Broker      BrokerConfig      `toml:"broker"`
	ResultStore ResultStoreConfig `toml:"result_store"`
	Uploads     UploadsConfig     `toml:"uploads"`
	OCR         OCRConfig         `toml:"ocr"`
	Classifier  ClassifierConfig  `toml:"classifier"`
	LLM         LLMConfig         `toml:"llm"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Lexical     LexicalConfig     `toml:"lexical"`
	Vector      VectorConfig      `toml:"vector"`
	Workers     WorkersConfig     `toml:"workers"`
	Prompts     PromptsConfig     `toml:"prompts"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// BrokerConfig configures the durable work queue. URL is a badger
// directory path in this deployment.
type BrokerConfig struct {
	URL               string `toml:"url" validate:"required"`
	QueueName         string `toml:"queue_name" validate:"required"`
	VisibilityTimeout string `toml:"visibility_timeout"`
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`
}

type ResultStoreConfig struct {
	URL string `toml:"url" validate:"required"`
}

type UploadsConfig struct {
	Dir           string `toml:"dir" validate:"required"`
	SweepSchedule string `toml:"sweep_schedule"`
	MaxAge        string `toml:"max_age"`
}

type OCRConfig struct {
	URL     string `toml:"url" validate:"required,url"`
	Lang    string `toml:"lang"`
	Timeout string `toml:"timeout"`
}

// ClassifierConfig configures the document-type model endpoint. Mode
// decides startup behavior when no endpoint is configured:
// "hint_fallback" degrades to filename hints, "unavailable" surfaces a
// NotAvailable error to the orchestrator. The mode never changes mid-run.
type ClassifierConfig struct {
	URL           string  `toml:"url" validate:"omitempty,url"`
	Mode          string  `toml:"mode" validate:"oneof=hint_fallback unavailable"`
	MinConfidence float64 `toml:"min_confidence" validate:"min=0,max=1"`
	MaxInputChars int     `toml:"max_input_chars" validate:"min=1"`
	Timeout       string  `toml:"timeout"`
}

type LLMConfig struct {
	BaseURL        string  `toml:"base_url" validate:"required,url"`
	Model          string  `toml:"model" validate:"required"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"min=1"`
	MaxTokens      int     `toml:"max_tokens" validate:"min=1"`
	Temperature    float32 `toml:"temperature"`
	RateLimit      string  `toml:"rate_limit"`
}

type EmbeddingConfig struct {
	Model          string `toml:"model" validate:"required"`
	Dimension      int    `toml:"dimension" validate:"min=1"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
	MaxChars       int    `toml:"max_chars" validate:"min=1"`
}

type LexicalConfig struct {
	URL            string `toml:"url" validate:"required,url"`
	AdminKey       string `toml:"admin_key"`
	IndexName      string `toml:"index_name" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
}

type VectorConfig struct {
	Host           string `toml:"host" validate:"required"`
	Port           int    `toml:"port" validate:"min=1,max=65535"`
	Collection     string `toml:"collection" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
}

type WorkersConfig struct {
	Concurrency      int    `toml:"concurrency" validate:"min=1"`
	MaxRetries       int    `toml:"max_retries" validate:"min=0"`
	RetryBackoffBase string `toml:"retry_backoff_base"`
	RetryBackoffCap  string `toml:"retry_backoff_cap"`
	JobDeadline      string `toml:"job_deadline"`
	SummaryMaxChars  int    `toml:"summary_max_chars" validate:"min=1"`
	ShutdownGrace    string `toml:"shutdown_grace"`
}

type PromptsConfig struct {
	Dir string `toml:"dir"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"`
}

// minCallTimeout is the floor for every outbound adapter timeout.
const minCallTimeout = 5 * time.Second

// NewDefaultConfig returns the built-in defaults. Technical tuning
// lives here; scriba.toml only needs the endpoints that differ.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Broker: BrokerConfig{
			URL:               "./data/broker",
			QueueName:         "scriba_jobs",
			VisibilityTimeout: "15m",
			MaxReceive:        5,
		},
		ResultStore: ResultStoreConfig{
			URL: "./data/results",
		},
		Uploads: UploadsConfig{
			Dir:           "./data/uploads",
			SweepSchedule: "0 */10 * * * *",
			MaxAge:        "30m",
		},
		OCR: OCRConfig{
			URL:     "http://localhost:8868",
			Lang:    "en",
			Timeout: "40s",
		},
		Classifier: ClassifierConfig{
			URL:           "",
			Mode:          "hint_fallback",
			MinConfidence: 0.5,
			MaxInputChars: 4000,
			Timeout:       "40s",
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:8001/v1",
			Model:          "shimmy-chat",
			TimeoutSeconds: 300,
			MaxTokens:      1024,
			Temperature:    0.1,
			RateLimit:      "0s",
		},
		Embedding: EmbeddingConfig{
			Model:          "mxbai-embed-large",
			Dimension:      1024,
			TimeoutSeconds: 40,
			MaxChars:       8000,
		},
		Lexical: LexicalConfig{
			URL:            "http://localhost:7700",
			AdminKey:       "",
			IndexName:      "documents",
			TimeoutSeconds: 40,
		},
		Vector: VectorConfig{
			Host:           "localhost",
			Port:           6333,
			Collection:     "documents",
			TimeoutSeconds: 40,
		},
		Workers: WorkersConfig{
			Concurrency:      4,
			MaxRetries:       3,
			RetryBackoffBase: "1s",
			RetryBackoffCap:  "60s",
			JobDeadline:      "15m",
			SummaryMaxChars:  2000,
			ShutdownGrace:    "30s",
		},
		Prompts: PromptsConfig{
			Dir: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority:
// defaults -> file1 -> file2 -> ... -> environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks structural constraints and duration strings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, value := range map[string]string{
		"broker.visibility_timeout":  c.Broker.VisibilityTimeout,
		"uploads.max_age":            c.Uploads.MaxAge,
		"ocr.timeout":                c.OCR.Timeout,
		"classifier.timeout":         c.Classifier.Timeout,
		"llm.rate_limit":             c.LLM.RateLimit,
		"workers.retry_backoff_base": c.Workers.RetryBackoffBase,
		"workers.retry_backoff_cap":  c.Workers.RetryBackoffCap,
		"workers.job_deadline":       c.Workers.JobDeadline,
		"workers.shutdown_grace":     c.Workers.ShutdownGrace,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// applyEnvOverrides applies SCRIBA_* environment variables on top of
// file configuration.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SCRIBA_ENV"); env != "" {
		config.Environment = env
	}
	if v := os.Getenv("SCRIBA_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("SCRIBA_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SCRIBA_BROKER_URL"); v != "" {
		config.Broker.URL = v
	}
	if v := os.Getenv("SCRIBA_RESULT_STORE_URL"); v != "" {
		config.ResultStore.URL = v
	}
	if v := os.Getenv("SCRIBA_OCR_URL"); v != "" {
		config.OCR.URL = v
	}
	if v := os.Getenv("SCRIBA_CLASSIFIER_URL"); v != "" {
		config.Classifier.URL = v
	}
	if v := os.Getenv("SCRIBA_LLM_BASE_URL"); v != "" {
		config.LLM.BaseURL = v
	}
	if v := os.Getenv("SCRIBA_LLM_MODEL"); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv("SCRIBA_LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("SCRIBA_EMBEDDING_MODEL"); v != "" {
		config.Embedding.Model = v
	}
	if v := os.Getenv("SCRIBA_VECTOR_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("SCRIBA_LEXICAL_URL"); v != "" {
		config.Lexical.URL = v
	}
	if v := os.Getenv("SCRIBA_LEXICAL_ADMIN_KEY"); v != "" {
		config.Lexical.AdminKey = v
	}
	if v := os.Getenv("SCRIBA_VECTOR_HOST"); v != "" {
		config.Vector.Host = v
	}
	if v := os.Getenv("SCRIBA_VECTOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Vector.Port = p
		}
	}
	if v := os.Getenv("SCRIBA_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.Concurrency = n
		}
	}
	if v := os.Getenv("SCRIBA_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.MaxRetries = n
		}
	}
	if v := os.Getenv("SCRIBA_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies CLI flag values, the highest priority.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Duration helpers. Invalid strings were rejected by Validate, so the
// parse failures here only cover the zero value.

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func clampTimeout(d time.Duration) time.Duration {
	if d < minCallTimeout {
		return minCallTimeout
	}
	return d
}

func (c *BrokerConfig) VisibilityTimeoutDuration() time.Duration {
	return parseDuration(c.VisibilityTimeout, 15*time.Minute)
}

func (c *UploadsConfig) MaxAgeDuration() time.Duration {
	return parseDuration(c.MaxAge, 30*time.Minute)
}

func (c *OCRConfig) TimeoutDuration() time.Duration {
	return clampTimeout(parseDuration(c.Timeout, 40*time.Second))
}

func (c *ClassifierConfig) TimeoutDuration() time.Duration {
	return clampTimeout(parseDuration(c.Timeout, 40*time.Second))
}

func (c *LLMConfig) TimeoutDuration() time.Duration {
	return clampTimeout(time.Duration(c.TimeoutSeconds) * time.Second)
}

func (c *LLMConfig) RateLimitDuration() time.Duration {
	return parseDuration(c.RateLimit, 0)
}

func (c *EmbeddingConfig) TimeoutDuration() time.Duration {
	return clampTimeout(time.Duration(c.TimeoutSeconds) * time.Second)
}

func (c *LexicalConfig) TimeoutDuration() time.Duration {
	return clampTimeout(time.Duration(c.TimeoutSeconds) * time.Second)
}

func (c *VectorConfig) TimeoutDuration() time.Duration {
	return clampTimeout(time.Duration(c.TimeoutSeconds) * time.Second)
}

func (c *WorkersConfig) RetryBackoffBaseDuration() time.Duration {
	return parseDuration(c.RetryBackoffBase, time.Second)
}

func (c *WorkersConfig) RetryBackoffCapDuration() time.Duration {
	return parseDuration(c.RetryBackoffCap, 60*time.Second)
}

func (c *WorkersConfig) JobDeadlineDuration() time.Duration {
	return parseDuration(c.JobDeadline, 15*time.Minute)
}

func (c *WorkersConfig) ShutdownGraceDuration() time.Duration {
	return parseDuration(c.ShutdownGrace, 30*time.Second)
}
