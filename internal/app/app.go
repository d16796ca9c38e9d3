// Package app assembles the query stack from configuration. The CLI, HTTP
// API and MCP server all start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/config"
	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/executor"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/llm"
	_ "github.com/castleinc/cveagent/pkg/llm/gemini"
	_ "github.com/castleinc/cveagent/pkg/llm/openai"
	"github.com/castleinc/cveagent/pkg/metrics"
	"github.com/castleinc/cveagent/pkg/render"
	"github.com/castleinc/cveagent/pkg/session"
	"github.com/castleinc/cveagent/pkg/store"
	"github.com/castleinc/cveagent/pkg/store/entstore"
	"github.com/castleinc/cveagent/pkg/store/memstore"
	"github.com/castleinc/cveagent/pkg/store/mongostore"
	"github.com/castleinc/cveagent/pkg/tool"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

// SampleSeed names the bundled sample records in store.seed_file.
const SampleSeed = "sample"

type App struct {
	Config   config.Config
	Log      *zap.Logger
	Repo     cve.Repository
	Registry *tool.Registry
	Resolver *intent.Resolver
	Executor *executor.Executor
	Renderer *render.Renderer
	Planner  intent.Planner
	Turns    store.TurnLog
	Sessions *session.Manager

	// Prometheus holds the process collectors and the cveagent metrics.
	Prometheus *prometheus.Registry
	Metrics    *metrics.Metrics

	closers []func(context.Context) error
}

// Build opens the configured store, seeds it when asked, registers the tool
// catalog and wires resolver, executor and session manager. Close releases
// whatever Build opened.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (a *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{Config: cfg, Log: log, Prometheus: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Prometheus)

	if err := a.openStore(ctx); err != nil {
		return a, err
	}
	if cfg.Store.SeedFile != "" {
		n, err := a.seed(ctx, cfg.Store.SeedFile)
		if err != nil {
			return a, err
		}
		log.Info("store seeded", zap.String("source", cfg.Store.SeedFile), zap.Int("records", n))
	}

	a.Registry = tool.NewRegistry()
	opts := cvetools.Options{DefaultLimit: cfg.Tools.DefaultLimit, MaxLimit: cfg.Tools.MaxLimit}
	if err := cvetools.Register(a.Registry, a.Repo, opts); err != nil {
		return a, err
	}
	a.Resolver = intent.NewResolver(a.Registry, intent.WithLogger(log), intent.WithMetrics(a.Metrics))
	a.Executor = executor.New(a.Registry, executor.WithLogger(log), executor.WithMetrics(a.Metrics))
	a.Renderer, err = render.New()
	if err != nil {
		return a, err
	}

	if cfg.LLM.Provider != "" {
		a.Planner, err = llm.New(ctx, cfg.LLM.Provider, llm.Config{
			APIKey:        cfg.LLM.APIKey,
			Model:         cfg.LLM.Model,
			BaseURL:       cfg.LLM.BaseURL,
			HistoryTokens: cfg.LLM.HistoryTokens,
			Logger:        log,
		})
		if err != nil {
			return a, err
		}
		log.Info("llm planner enabled", zap.String("provider", cfg.LLM.Provider))
	}

	a.Sessions = session.NewManager(func(id string) *session.Session {
		return a.NewSession(id)
	}, session.WithIdleTimeout(cfg.Sessions.IdleTimeout))
	return a, nil
}

// NewSession builds a session on the shared stack. Extra options are applied
// last. The shared store stays open when the session closes unless the
// caller passes session.WithStoreHandle.
func (a *App) NewSession(id string, extra ...session.Option) *session.Session {
	opts := []session.Option{
		session.WithID(id),
		session.WithRenderer(a.Renderer),
		session.WithLogger(a.Log),
		session.WithMetrics(a.Metrics),
		session.WithTools(a.Registry.List()),
	}
	if a.Planner != nil {
		opts = append(opts, session.WithPlanner(a.Planner))
	}
	if a.Turns != nil {
		opts = append(opts, session.WithRecorder(a.Turns))
	}
	return session.New(a.Resolver, a.Executor, append(opts, extra...)...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendSQL:
		st, err := entstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return st.Close() })
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		a.Repo = st
		if cfg.RecordTurns {
			a.Turns = st
		}
		a.Log.Info("store opened", zap.String("backend", cfg.Backend), zap.String("dialect", st.Dialect()))
	case config.BackendMongo:
		st, err := mongostore.Connect(ctx, mongostore.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    a.Config.HTTP.RequestTimeout,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, st.Close)
		if err := st.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.Repo = st
		if cfg.RecordTurns {
			a.Turns = memstore.NewTurnLog()
		}
		a.Log.Info("store opened", zap.String("backend", cfg.Backend), zap.String("collection", cfg.Mongo.Collection))
	default:
		a.Repo = memstore.New()
		if cfg.RecordTurns {
			a.Turns = memstore.NewTurnLog()
		}
	}
	return nil
}

func (a *App) seed(ctx context.Context, source string) (int, error) {
	w, ok := a.Repo.(cve.Writer)
	if !ok {
		return 0, fmt.Errorf("store %T cannot be seeded", a.Repo)
	}
	var rs []cve.Record
	var err error
	if source == SampleSeed {
		rs, err = cve.SampleRecords()
	} else {
		rs, err = readSeed(source)
	}
	if err != nil {
		return 0, err
	}
	return len(rs), cve.Seed(ctx, w, rs)
}

func readSeed(path string) ([]cve.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	defer f.Close()
	return cve.DecodeSeed(f)
}
