// Package app assembles the service from its configuration. Both the HTTP
// server and the Lambda entrypoint build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"support-agent/internal/config"
	"support-agent/internal/conversation"
	"support-agent/internal/domain"
	"support-agent/internal/escalation"
	"support-agent/internal/generator"
	"support-agent/internal/integrations/gemini"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/paramstore"
	"support-agent/internal/knowledge"
	"support-agent/internal/metrics"
	"support-agent/internal/repository"
	"support-agent/internal/usecase"
	logx "support-agent/pkg/logger"
)

type App struct {
	Config    config.Config
	Engine    *usecase.Engine
	Knowledge *knowledge.Base
	Tally     *metrics.Tally
	Registry  *prometheus.Registry

	events  *metrics.Async
	closers []io.Closer
}

// Build wires every component described by cfg. AWS configuration is only
// loaded when a parameter or the DynamoDB archive needs it.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var params *paramstore.Client
	if cfg.Knowledge.Param != "" || cfg.Generator.OpenAIKeyParam != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		if params, err = paramstore.NewFromConfig(c); err != nil {
			return nil, fmt.Errorf("app: paramstore: %w", err)
		}
	}

	entries, err := loadKnowledge(ctx, cfg.Knowledge, params)
	if err != nil {
		return nil, err
	}
	if a.Knowledge, err = knowledge.New(entries...); err != nil {
		return nil, fmt.Errorf("app: knowledge base: %w", err)
	}

	policy, err := escalation.New(cfg.Escalation.EscalationPolicy())
	if err != nil {
		return nil, fmt.Errorf("app: escalation policy: %w", err)
	}

	backend, err := newBackend(ctx, cfg.Generator, params)
	if err != nil {
		return nil, err
	}
	gen, err := generator.New(backend, generator.Config{
		Timeout:       cfg.Generator.Timeout,
		HistoryWindow: cfg.Generator.HistoryWindow,
		Business: generator.BusinessInfo{
			CompanyName:  cfg.Business.CompanyName,
			SupportEmail: cfg.Business.SupportEmail,
			SupportPhone: cfg.Business.SupportPhone,
			SupportHours: cfg.Business.SupportHours,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: generator: %w", err)
	}

	archive, err := a.newArchive(ctx, cfg, loadAWS)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheus(a.Registry)
	a.Tally = metrics.NewTally(time.Now())
	a.events = metrics.NewAsync(metrics.Multi{prom, a.Tally, metrics.LogSink{}}, cfg.Metrics.Buffer)

	store := conversation.NewStore(conversation.Options{
		Shards:   cfg.Store.Shards,
		MaxTurns: cfg.Store.MaxTurns,
	})
	a.Engine, err = usecase.NewEngine(store, a.Knowledge, policy, gen, usecase.Options{
		KnowledgeThreshold: cfg.Knowledge.Threshold,
		Archive:            archive,
		Metrics:            a.events,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	if err := prom.RegisterActiveConversations(a.Engine.ActiveConversations); err != nil {
		a.Close()
		return nil, fmt.Errorf("app: register gauge: %w", err)
	}

	logx.Info().
		Str("provider", cfg.Generator.Provider).
		Str("archive", cfg.Archive.Backend).
		Int("faq_entries", a.Knowledge.Len()).
		Msg("Support agent assembled")
	return a, nil
}

// Sweep evicts idle conversations every interval until ctx ends.
func (a *App) Sweep(ctx context.Context) {
	t := time.NewTicker(a.Config.Store.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Engine.EvictIdle(a.Config.Store.IdleTTL)
		}
	}
}

// Close drains pending metric events and releases backend connections.
func (a *App) Close() {
	if a.events != nil {
		a.events.Close()
		if n := a.events.Dropped(); n > 0 {
			logx.Warn().Uint64("dropped", n).Msg("Metric events dropped")
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logx.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}

func loadKnowledge(ctx context.Context, cfg config.KnowledgeConfig, params *paramstore.Client) ([]domain.FAQEntry, error) {
	switch {
	case cfg.File != "":
		entries, err := knowledge.LoadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("app: knowledge file: %w", err)
		}
		return entries, nil
	case cfg.Param != "":
		r, err := paramstore.Open(ctx, params, cfg.Param)
		if err != nil {
			return nil, fmt.Errorf("app: knowledge param: %w", err)
		}
		entries, err := knowledge.LoadYAML(r)
		if err != nil {
			return nil, fmt.Errorf("app: knowledge param: %w", err)
		}
		return entries, nil
	default:
		logx.Warn().Msg("No knowledge seed configured, starting with an empty knowledge base")
		return nil, nil
	}
}

func newBackend(ctx context.Context, cfg config.GeneratorConfig, params *paramstore.Client) (generator.Backend, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		temp := cfg.Temperature
		c, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.GeminiBaseURL,
			Temperature: &temp,
			MaxTokens:   int32(cfg.MaxTokens),
		})
		if err != nil {
			return nil, fmt.Errorf("app: gemini: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithTemperature(float64(cfg.Temperature)),
			openai.WithMaxTokens(cfg.MaxTokens),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
		} else {
			opts = append(opts, openai.WithParamStoreKey(params, cfg.OpenAIKeyParam))
		}
		c, err := openai.NewClient(cfg.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: openai: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("app: unknown provider %q", cfg.Provider)
	}
}

func (a *App) newArchive(ctx context.Context, cfg config.Config, loadAWS func() (aws.Config, error)) (usecase.Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		arch, err := repository.NewDynamoArchive(awsdynamodb.NewFromConfig(c), cfg.Archive.Table, cfg.Archive.TTL, cfg.Store.MaxTurns)
		if err != nil {
			return nil, fmt.Errorf("app: dynamodb archive: %w", err)
		}
		return arch, nil
	case config.ArchiveRedis:
		rdb, err := cfg.Archive.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: redis archive: %w", err)
		}
		a.closers = append(a.closers, rdb)
		arch, err := repository.NewRedisArchive(rdb, cfg.Archive.TTL, cfg.Store.MaxTurns)
		if err != nil {
			return nil, fmt.Errorf("app: redis archive: %w", err)
		}
		return arch, nil
	case config.ArchiveNone, "":
		return nil, nil
	default:
		return nil, errors.New("app: unknown archive backend " + cfg.Archive.Backend)
	}
}
