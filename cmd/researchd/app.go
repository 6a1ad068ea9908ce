package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/internal/agents"
	"github.com/mohammad-safakhou/researchd/internal/httpclient"
	"github.com/mohammad-safakhou/researchd/internal/stream"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"github.com/mohammad-safakhou/researchd/internal/telemetry"
	"github.com/mohammad-safakhou/researchd/internal/workflow"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/memory/inmemory"
	"github.com/mohammad-safakhou/researchd/memory/redisstore"
	"github.com/mohammad-safakhou/researchd/provider"
	openai_provider "github.com/mohammad-safakhou/researchd/provider/openai"
	"github.com/mohammad-safakhou/researchd/tools/web_fetch"
	"github.com/mohammad-safakhou/researchd/tools/web_search"
)

// app is the fully wired pipeline shared by the serve and ask commands.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	broker    *stream.Broker
	registry  *task.Registry
	engine    *workflow.Engine
	memory    memory.Store

	llmConfigured    bool
	searchConfigured bool

	closers []func() error
	logger  *log.Logger
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.New(log.Writer(), "[APP] ", log.LstdFlags)
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.General.ServiceName,
		ServiceVersion: cfg.General.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = tel

	var llm provider.Provider
	var embedder provider.Embedder
	client, err := openai_provider.NewOpenAIClient(openai_provider.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		logger.Printf("llm not configured; answers cannot be generated until llm.api_key is set")
	case err != nil:
		return nil, fmt.Errorf("llm: %w", err)
	default:
		llm = client
		a.llmConfigured = true
		if cfg.LLM.Embeddings {
			embedder = client
		}
	}

	var search web_search.WebSearcher
	hc := httpclient.New(cfg.Search.Timeout, cfg.Search.MaxRetries, 500*time.Millisecond)
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey(), cfg.Search.BaseURL, hc)
	switch {
	case errors.Is(err, web_search.ErrMissingAPIKey):
		logger.Printf("%s search not configured; research will run without web sources", cfg.Search.Provider)
	case err != nil:
		return nil, fmt.Errorf("search: %w", err)
	default:
		search = searcher
		a.searchConfigured = true
	}

	var fetch web_fetch.WebFetcher
	if cfg.Fetch.Enabled {
		if fetch, err = web_fetch.NewWebFetcher(web_fetch.ReadabilityFetcherType, cfg.Fetch.Timeout, cfg.Fetch.MaxChars); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
	}

	if a.memory, err = a.openMemory(ctx, embedder); err != nil {
		return nil, err
	}

	stages := agents.Pipeline(agents.Deps{
		LLM:    llm,
		Search: search,
		Fetch:  fetch,
		Memory: a.memory,
		Logger: log.New(log.Writer(), "[AGENTS] ", log.LstdFlags),
	}, agents.Options{
		PortTimeout:      cfg.Agents.PortTimeout,
		StreamTimeout:    cfg.Agents.StreamTimeout,
		Concurrency:      cfg.Agents.Concurrency,
		MaxSources:       cfg.Research.MaxSources,
		MemoryHits:       cfg.Research.MemoryHits,
		ExcerptChars:     cfg.Research.ExcerptChars,
		MinExcerptChars:  cfg.Research.MinExcerptChars,
		DigestSources:    cfg.Summarizer.MaxSources,
		DigestWords:      cfg.Summarizer.DigestWords,
		MaxClaims:        cfg.Validator.MaxClaims,
		EvidenceResults:  cfg.Validator.EvidenceResults,
		VerifyWithSearch: cfg.Validator.VerifyWithSearch,
	})

	a.broker = stream.NewBroker()
	a.registry = task.NewRegistry(a.broker, task.Options{
		Retention: cfg.Registry.Retention,
		MaxTasks:  cfg.Registry.MaxTasks,
	})
	a.engine = workflow.New(a.broker, stages, workflow.Options{
		Memory:  a.memory,
		Metrics: tel.Metrics,
	})
	return a, nil
}

func (a *app) openMemory(ctx context.Context, embedder provider.Embedder) (memory.Store, error) {
	mc := a.cfg.Memory
	switch mc.Backend {
	case "none":
		return memory.Noop{}, nil
	case "redis":
		st, err := redisstore.NewFromURL(mc.RedisURL, redisstore.Options{
			Prefix:     mc.Prefix,
			TTL:        mc.TTL,
			MaxRecords: mc.MaxRecords,
			Window:     mc.Window,
			Embedder:   embedder,
		})
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := st.Ping(pctx); err != nil {
			a.logger.Printf("redis memory unreachable, continuing without it until it recovers: %v", err)
		}
		return st, nil
	default:
		st, err := inmemory.New(embedder, mc.MaxRecords)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
}

// Close flushes telemetry and releases backends.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
