package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/adapter"
	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/fetcher"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/orchestrator"
	"github.com/sells-group/directory-cli/internal/publish"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/resilience"
	"github.com/sells-group/directory-cli/internal/runner"
	"github.com/sells-group/directory-cli/internal/scrape"
	"github.com/sells-group/directory-cli/internal/store"
	"github.com/sells-group/directory-cli/internal/throttle"
	anthropicpkg "github.com/sells-group/directory-cli/pkg/anthropic"
	"github.com/sells-group/directory-cli/pkg/firecrawl"
	"github.com/sells-group/directory-cli/pkg/google"
	"github.com/sells-group/directory-cli/pkg/jina"
	"github.com/sells-group/directory-cli/pkg/mediastore"
	"github.com/sells-group/directory-cli/pkg/notion"
	"github.com/sells-group/directory-cli/pkg/perplexity"
)

// appEnv holds the store, the step registry and the orchestrator shared by
// serve, worker, extract and bulk.
type appEnv struct {
	Store        store.Store
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Breakers     *resilience.ServiceBreakers
	Throttle     *throttle.Controller
	Notion       notion.Client // nil when no token is configured
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode, opens the store and builds the
// orchestrator with every configured client. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if cfg.Notion.Token != "" {
		env.Notion = notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
	}

	reg, err := loadRegistry(ctx, env.Notion)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Registry = reg

	deps, err := initDeps()
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Breakers = resilience.NewServiceBreakers(cfg.CircuitPolicy())
	env.Throttle = throttle.New(cfg.ThrottlePolicy())
	bus := orchestrator.NewBus()
	metrics.Subscribe(bus)

	env.Orchestrator = orchestrator.New(st, reg, adapter.NewSet(deps),
		orchestrator.WithThrottle(env.Throttle),
		orchestrator.WithBreakers(env.Breakers),
		orchestrator.WithRetry(cfg.RetryPolicy()),
		orchestrator.WithBus(bus),
		orchestrator.WithPolicy(publish.NewPolicy(cfg.Extraction.PublishMinScore)),
	)

	zap.L().Info("extraction environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("entity_types", len(reg.Types())),
	)
	return env, nil
}

// loadRegistry applies overrides from the file, then from Notion, on top of
// the built-in step lists.
func loadRegistry(ctx context.Context, nc notion.Client) (*registry.Registry, error) {
	reg := registry.Default()

	if cfg.Registry.OverridesFile != "" {
		o, err := registry.LoadOverridesFile(cfg.Registry.OverridesFile)
		if err != nil {
			return nil, err
		}
		if reg, err = reg.Apply(o); err != nil {
			return nil, eris.Wrap(err, "apply registry overrides file")
		}
		zap.L().Info("registry overrides loaded", zap.String("file", cfg.Registry.OverridesFile))
	}

	if nc != nil && cfg.Notion.RegistryDB != "" {
		o, err := registry.LoadNotionOverrides(ctx, nc, cfg.Notion.RegistryDB)
		if err != nil {
			return nil, err
		}
		if reg, err = reg.Apply(o); err != nil {
			return nil, eris.Wrap(err, "apply notion registry overrides")
		}
		zap.L().Info("registry overrides loaded from notion")
	}

	return reg, nil
}

// initDeps builds the adapter dependencies from config. Optional services
// left unconfigured stay nil and their steps report not applicable.
func initDeps() (adapter.Deps, error) {
	d := adapter.Deps{
		Cost:           cost.NewCalculator(cfg.Pricing),
		AIModel:        cfg.Anthropic.Model,
		MaxPhotos:      cfg.Extraction.MaxPhotos,
		MaxReviews:     cfg.Extraction.MaxReviews,
		MaxScrapePages: cfg.Extraction.MaxScrapePages,
	}

	if cfg.Google.Key != "" {
		d.Google = google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
	}

	anthropicOpts := []anthropicpkg.Option{}
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if cfg.Anthropic.Key != "" {
		d.Anthropic = anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicOpts...)
	}

	if cfg.Perplexity.Key != "" {
		d.Perplexity = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	}

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)
	d.Search = jinaClient

	scrapers := []scrape.Scraper{scrape.NewJinaAdapter(jinaClient)}
	if cfg.Firecrawl.Key != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(
			firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL)),
		))
	}
	scrapers = append(scrapers, scrape.NewLocalScraper())
	d.Scrape = scrape.NewChain(scrape.NewPathMatcher(cfg.Extraction.ScrapeExcludePaths), scrapers...)

	timeout := time.Duration(cfg.Media.TimeoutSecs) * time.Second
	d.Fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Media.UserAgent,
		Timeout:    timeout,
		MaxRetries: 2,
	})

	// Assign only a concrete store: a typed nil would defeat the nil check
	// in the image step.
	if cfg.Media.FTPAddr != "" {
		ms, err := mediastore.NewFTPStore(mediastore.FTPConfig{
			Addr:      cfg.Media.FTPAddr,
			User:      cfg.Media.User,
			Password:  cfg.Media.Password,
			BaseDir:   cfg.Media.BaseDir,
			PublicURL: cfg.Media.PublicURL,
			Timeout:   timeout,
		})
		if err != nil {
			return adapter.Deps{}, eris.Wrap(err, "init media store")
		}
		d.Media = ms
	} else {
		zap.L().Debug("media.ftp_addr not set, photos keep provider references")
	}

	return d, nil
}

// initGuard builds the admission guard, with the Notion review queue for
// probable duplicates when one is configured.
func initGuard(env *appEnv, active guard.ActiveChecker) *guard.Guard {
	var queue guard.ReviewQueue
	if env.Notion != nil && cfg.Notion.ReviewDB != "" {
		queue = guard.NewNotionQueue(env.Notion, cfg.Notion.ReviewDB)
	}
	return guard.New(env.Store, active,
		guard.WithMatcher(guard.NewMatcher(env.Store, cfg.Extraction.FuzzyThreshold, queue)),
	)
}

// dispatcher is a runner.Dispatcher that can be shut down.
type dispatcher interface {
	runner.Dispatcher
	Shutdown(ctx context.Context)
}

type localDispatcher struct{ *runner.Runner }

func (d localDispatcher) Shutdown(ctx context.Context) { d.Stop(ctx) }

type temporalDispatcher struct {
	*runner.TemporalDispatcher
	client client.Client
}

func (d temporalDispatcher) Shutdown(context.Context) { d.client.Close() }

// initDispatcher returns the local pool or the Temporal dispatcher, per
// runner.dispatcher. local forces the in-process pool.
func initDispatcher(env *appEnv, local bool) (dispatcher, error) {
	if local || cfg.Runner.Dispatcher != "temporal" {
		r, err := runner.New(env.Orchestrator, env.Store, cfg.Runner.PoolSize)
		if err != nil {
			return nil, err
		}
		return localDispatcher{r}, nil
	}

	c, err := dialTemporal()
	if err != nil {
		return nil, err
	}
	return temporalDispatcher{
		TemporalDispatcher: runner.NewTemporalDispatcher(c, cfg.Temporal.TaskQueue, cfg.WorkflowPolicy()),
		client:             c,
	}, nil
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal at %s", cfg.Temporal.HostPort)
	}
	return c, nil
}

// shutdownContext bounds graceful shutdown by runner.shutdown_secs.
func shutdownContext() (context.Context, context.CancelFunc) {
	secs := cfg.Runner.ShutdownSecs
	if secs <= 0 {
		secs = 60
	}
	return context.WithTimeout(context.Background(), time.Duration(secs)*time.Second)
}
