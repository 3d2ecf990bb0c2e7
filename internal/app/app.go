// Package app assembles the repurposing service from configuration. The
// HTTP server and the CLI's in-process runner share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/api"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/auth"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/config"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/export"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/orchestrator"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/registry"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/transcribe"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const sampleTranscript = "Welcome back to the channel. Today we walk through how we cut our cloud bill " +
	"in half without touching application code. First we measured where the money went, then we " +
	"right-sized the database, moved batch jobs to spot capacity and set budgets with alerts. " +
	"Stick around to the end for the checklist we use every quarter."

// App is a fully wired service.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Store        runstore.Store
	Flows        flowstore.FlowStore
	Tools        *tool.Invoker
	Validator    *validator.Validator
	Exporter     *export.Exporter
	Watcher      *flowstore.DirWatcher

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// Build wires every component named by cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	store, err := newRunStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	a.Flows = newFlowStore(store, logger)
	a.closers = append(a.closers, a.Flows.Close)

	if cfg.FlowsDir != "" {
		w, err := flowstore.NewDirWatcher(cfg.FlowsDir, a.Flows, logger)
		if err != nil {
			return fmt.Errorf("watch flows dir: %w", err)
		}
		a.Watcher = w
		a.closers = append(a.closers, w.Close)
		if n, err := w.LoadAll(ctx); err != nil {
			logger.Warn("some flow files failed to load", slog.Any("error", err))
		} else {
			logger.Info("flow files loaded", slog.Int("count", n), slog.String("dir", cfg.FlowsDir))
		}
	}

	if a.Tools, err = newTools(ctx, cfg, logger); err != nil {
		return err
	}

	if a.Validator, err = validator.New(); err != nil {
		return fmt.Errorf("create validator: %w", err)
	}

	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		RecoveryTimeout:  cfg.BreakerRecovery,
	}, func(name string, from, to resilience.BreakerState) {
		metrics.BreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(string(to)))
		logger.Warn("circuit breaker state changed",
			slog.String("dependency", name),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	})
	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	wrapper := resilience.NewWrapper(breakers, policy, logger)

	var onFinish func(context.Context, *types.PipelineState)
	if cfg.S3Bucket != "" {
		backend, err := export.NewS3Backend(ctx, &export.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			PathPrefix:      cfg.S3PathPrefix,
		})
		if err != nil {
			return fmt.Errorf("create s3 backend: %w", err)
		}
		a.Exporter = export.New(backend, cfg.S3URLExpiry, logger)
		onFinish = a.Exporter.OnFinish
		logger.Info("artifact export enabled", slog.String("bucket", cfg.S3Bucket))
	}

	a.Orchestrator, err = orchestrator.New(&orchestrator.Config{
		MaxConcurrentAgents: cfg.MaxConcurrentAgents,
		DefaultMode:         types.ExecutionMode(cfg.DefaultMode),
		StageTimeout:        cfg.StageTimeout,
		RankExpression:      cfg.RankExpression,
		QualityThreshold:    cfg.QualityThreshold,
		MaxIterations:       cfg.MaxIterations,
	}, orchestrator.Deps{
		Registry: registry.NewWithBuiltins(),
		Invoker:  a.Tools,
		Wrapper:  wrapper,
		Store:    store,
		Flows:    a.Flows,
		Logger:   logger,
		OnFinish: onFinish,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	return nil
}

func newRunStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runstore.Store, error) {
	switch cfg.RunStoreType {
	case "redis":
		s, err := runstore.NewRedisStore(&runstore.RedisConfig{
			URL:          cfg.RedisURL,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			Prefix:       "workflows",
			TTL:          cfg.RunStoreTTL,
			EventMaxLen:  cfg.EventMaxLen,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis runstore: %w", err)
		}
		logger.Info("using Redis runstore", slog.String("url", cfg.RedisURL))
		return s, nil
	case "postgres":
		s, err := runstore.NewPostgresStore(ctx, &runstore.PostgresConfig{
			URL:          cfg.PostgresURL,
			PollInterval: cfg.PostgresPollInterval,
			EnsureSchema: true,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres runstore: %w", err)
		}
		logger.Info("using Postgres runstore")
		return s, nil
	case "", "memory":
		logger.Info("using in-memory runstore")
		return runstore.NewMemoryStore(&runstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTLSeconds:  int64(cfg.RunStoreTTL.Seconds()),
		}), nil
	}
	return nil, fmt.Errorf("unknown runstore type %q", cfg.RunStoreType)
}

// newFlowStore keeps flows next to runs when runs live in Redis.
func newFlowStore(store runstore.Store, logger *slog.Logger) flowstore.FlowStore {
	if rs, ok := store.(*runstore.RedisStore); ok {
		logger.Info("using Redis flow store")
		return flowstore.NewRedisStoreWithClient(rs.Client())
	}
	return flowstore.NewMemoryStore()
}

func newTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tool.Invoker, error) {
	client, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	logger.Info("llm provider configured", slog.String("provider", client.Provider()), slog.String("model", cfg.LLMModel))

	var extractor transcribe.Extractor
	if cfg.TranscribeURL != "" {
		extractor, err = transcribe.NewHTTPExtractor(ctx, transcribe.HTTPConfig{
			Endpoint:     cfg.TranscribeURL,
			Timeout:      cfg.TranscribeTimeout,
			ClientID:     cfg.TranscribeClientID,
			ClientSecret: cfg.TranscribeClientSecret,
			TokenURL:     cfg.TranscribeTokenURL,
			Scopes:       cfg.TranscribeScopes,
		})
		if err != nil {
			return nil, fmt.Errorf("create transcription client: %w", err)
		}
	} else {
		logger.Warn("TRANSCRIBE_URL unset, using the sample transcript")
		extractor = &transcribe.StaticExtractor{Text: sampleTranscript, Confidence: 0.9}
	}

	external := []tool.Definition{
		tool.LLM(client, accounting.DefaultPricing(), cfg.LLMTimeout),
		tool.Transcribe(extractor, cfg.TranscribeTimeout),
	}
	if cfg.DependencyRPS > 0 {
		for i := range external {
			external[i].RateLimit = cfg.DependencyRPS
			external[i].Burst = cfg.DependencyBurst
		}
	}
	defs := append(external,
		tool.Metadata(transcribe.NewMetadataFetcher(cfg.ToolTimeout)),
		tool.Keywords(),
	)

	inv := tool.NewInvoker(logger)
	for _, d := range defs {
		if err := inv.Register(d); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", d.Name, err)
		}
	}
	return inv, nil
}

// Recover resumes interrupted workflows when configured to.
func (a *App) Recover(ctx context.Context) {
	if !a.cfg.RecoverOnStart {
		return
	}
	ids, err := a.Orchestrator.Recover(ctx)
	if err != nil {
		a.logger.Error("workflow recovery failed", slog.Any("error", err))
	}
	if len(ids) > 0 {
		a.logger.Info("resumed interrupted workflows", slog.Int("count", len(ids)), slog.Any("workflow_ids", ids))
	}
}

// Server builds the HTTP API with authentication and rate limiting as
// configured.
func (a *App) Server(ctx context.Context) (*api.Server, error) {
	var opts []api.Option
	if a.cfg.OIDCEnabled {
		provider, err := auth.NewProvider(ctx, &auth.Config{Issuer: a.cfg.OIDCIssuer, ClientID: a.cfg.OIDCClientID})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		opts = append(opts, api.WithAuth(auth.NewMiddleware(provider, &auth.MiddlewareConfig{Enabled: true}, a.logger)))
		a.logger.Info("OIDC authentication enabled", slog.String("issuer", a.cfg.OIDCIssuer))
	}
	if a.cfg.RateLimitRPS > 0 {
		rl := api.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
		a.closers = append(a.closers, func() error { rl.Stop(); return nil })
		opts = append(opts, api.WithRateLimiter(rl))
	}

	h := api.NewHandlers(api.Deps{
		Orchestrator: a.Orchestrator,
		Store:        a.Store,
		Tools:        a.Tools,
		Validator:    a.Validator,
		Flows:        a.Flows,
		Exporter:     a.Exporter,
		CORSOrigins:  a.cfg.CORSOrigins,
		Logger:       a.logger,
	})
	return api.NewServer(h, opts...), nil
}

// Shutdown stops accepting workflows and waits for running ones to reach
// a resumable point.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Orchestrator == nil {
		return nil
	}
	return a.Orchestrator.Shutdown(ctx)
}

// Close releases stores, watchers and limiters in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
