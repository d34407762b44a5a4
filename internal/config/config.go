// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"support-agent/internal/escalation"
	logx "support-agent/pkg/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	ArchiveNone     = "none"
	ArchiveDynamoDB = "dynamodb"
	ArchiveRedis    = "redis"

	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Config holds every tunable of the service. Each field maps to one
// environment variable; nested sections only group them.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	HTTP       HTTPConfig
	Knowledge  KnowledgeConfig
	Escalation EscalationConfig
	Generator  GeneratorConfig
	Store      StoreConfig
	Archive    ArchiveConfig
	Metrics    MetricsConfig
	Business   BusinessConfig
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type KnowledgeConfig struct {
	Threshold int `envconfig:"KNOWLEDGE_THRESHOLD" default:"1"`
	// File is a YAML seed on disk; Param is an SSM parameter holding the same
	// document. File wins when both are set.
	File  string `envconfig:"KNOWLEDGE_FILE"`
	Param string `envconfig:"KNOWLEDGE_PARAM"`
}

type EscalationConfig struct {
	Phrases             []string `envconfig:"ESCALATION_PHRASES"`
	Keywords            []string `envconfig:"ESCALATION_KEYWORDS"`
	NegativeThreshold   float64  `envconfig:"ESCALATION_NEGATIVE_THRESHOLD" default:"-0.5"`
	RepeatWindow        int      `envconfig:"ESCALATION_REPEAT_WINDOW" default:"3"`
	SimilarityThreshold float64  `envconfig:"ESCALATION_SIMILARITY_THRESHOLD" default:"0.5"`
}

type GeneratorConfig struct {
	Provider      string        `envconfig:"GENERATOR_PROVIDER" default:"openai"`
	// Model defaults per provider when unset.
	Model         string        `envconfig:"GENERATOR_MODEL"`
	Timeout       time.Duration `envconfig:"GENERATOR_TIMEOUT" default:"10s"`
	HistoryWindow int           `envconfig:"GENERATOR_HISTORY_WINDOW" default:"10"`
	Temperature   float32       `envconfig:"GENERATOR_TEMPERATURE" default:"0.7"`
	MaxTokens     int           `envconfig:"GENERATOR_MAX_TOKENS" default:"500"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIKeyParam string `envconfig:"OPENAI_API_KEY_PARAM"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL  string `envconfig:"GEMINI_BASE_URL"`
}

type StoreConfig struct {
	Shards        int           `envconfig:"STORE_SHARDS" default:"32"`
	MaxTurns      int           `envconfig:"STORE_MAX_TURNS" default:"100"`
	IdleTTL       time.Duration `envconfig:"STORE_IDLE_TTL" default:"30m"`
	SweepInterval time.Duration `envconfig:"STORE_SWEEP_INTERVAL" default:"1m"`
}

type ArchiveConfig struct {
	Backend string        `envconfig:"ARCHIVE_BACKEND" default:"none"`
	Table   string        `envconfig:"ARCHIVE_TABLE"`
	TTL     time.Duration `envconfig:"ARCHIVE_TTL" default:"720h"`
	Redis   RedisConfig
}

type MetricsConfig struct {
	Buffer int `envconfig:"METRICS_BUFFER" default:"256"`
}

type BusinessConfig struct {
	CompanyName  string `envconfig:"BUSINESS_COMPANY_NAME" default:"Acme"`
	SupportEmail string `envconfig:"BUSINESS_SUPPORT_EMAIL" default:"support@example.com"`
	SupportPhone string `envconfig:"BUSINESS_SUPPORT_PHONE" default:"1-800-555-0100"`
	SupportHours string `envconfig:"BUSINESS_SUPPORT_HOURS" default:"Monday-Friday 9AM-6PM EST"`
}

// Load reads envFiles (missing files are only logged) and then the
// environment, and validates the result.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			logx.Warn().Err(err).Strs("files", envFiles).Msg("Could not load env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process env: %w", err)
	}
	if len(cfg.Escalation.Phrases) == 0 {
		cfg.Escalation.Phrases = escalation.DefaultPhrases()
	}
	if len(cfg.Escalation.Keywords) == 0 {
		cfg.Escalation.Keywords = escalation.DefaultKeywords()
	}
	cfg.Generator.Provider = strings.ToLower(strings.TrimSpace(cfg.Generator.Provider))
	cfg.Archive.Backend = strings.ToLower(strings.TrimSpace(cfg.Archive.Backend))
	if strings.TrimSpace(cfg.Generator.Model) == "" {
		switch cfg.Generator.Provider {
		case ProviderOpenAI:
			cfg.Generator.Model = DefaultOpenAIModel
		case ProviderGemini:
			cfg.Generator.Model = DefaultGeminiModel
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Knowledge.Threshold < 1 {
		errs = append(errs, errors.New("KNOWLEDGE_THRESHOLD must be at least 1"))
	}
	if c.Escalation.RepeatWindow < 1 {
		errs = append(errs, errors.New("ESCALATION_REPEAT_WINDOW must be at least 1"))
	}
	if s := c.Escalation.SimilarityThreshold; s <= 0 || s > 1 {
		errs = append(errs, errors.New("ESCALATION_SIMILARITY_THRESHOLD must be in (0, 1]"))
	}
	if n := c.Escalation.NegativeThreshold; n < -1 || n > 0 {
		errs = append(errs, errors.New("ESCALATION_NEGATIVE_THRESHOLD must be in [-1, 0]"))
	}
	if c.Generator.Timeout <= 0 {
		errs = append(errs, errors.New("GENERATOR_TIMEOUT must be positive"))
	}
	if c.Generator.HistoryWindow < 1 {
		errs = append(errs, errors.New("GENERATOR_HISTORY_WINDOW must be at least 1"))
	}
	switch c.Generator.Provider {
	case ProviderOpenAI:
		if c.Generator.OpenAIAPIKey == "" && c.Generator.OpenAIKeyParam == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_API_KEY_PARAM is required"))
		}
	case ProviderGemini:
		if c.Generator.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATOR_PROVIDER %q", c.Generator.Provider))
	}
	if c.Store.Shards < 1 {
		errs = append(errs, errors.New("STORE_SHARDS must be at least 1"))
	}
	if c.Store.IdleTTL <= 0 || c.Store.SweepInterval <= 0 {
		errs = append(errs, errors.New("STORE_IDLE_TTL and STORE_SWEEP_INTERVAL must be positive"))
	}
	switch c.Archive.Backend {
	case ArchiveNone:
	case ArchiveDynamoDB:
		if c.Archive.Table == "" {
			errs = append(errs, errors.New("ARCHIVE_TABLE is required for the dynamodb archive"))
		}
	case ArchiveRedis:
		if c.Archive.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.Archive.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// EscalationPolicy converts the section into the policy's own config.
func (c EscalationConfig) EscalationPolicy() escalation.Config {
	cfg := escalation.DefaultConfig()
	cfg.Phrases = c.Phrases
	cfg.Keywords = c.Keywords
	cfg.NegativeThreshold = c.NegativeThreshold
	cfg.RepeatWindow = c.RepeatWindow
	cfg.SimilarityThreshold = c.SimilarityThreshold
	return cfg
}
