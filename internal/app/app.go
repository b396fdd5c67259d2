package app

import (
	"time"

	"kumascript/internal/cache"
	"kumascript/internal/circuitbreaker"
	khttp "kumascript/internal/common/http"
	"kumascript/internal/common/logging"
	"kumascript/internal/config"
	"kumascript/internal/execution"
	"kumascript/internal/loader"
	"kumascript/internal/locks"
	"kumascript/internal/redis"
	"kumascript/internal/render"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Locks       *locks.Manager
	Cache       cache.Client
	Coalescer   *cache.Coalescer
	Breakers    *circuitbreaker.Manager
	Fetcher     *khttp.Fetcher
	Loader      *loader.Cached
	Renderer    *render.Renderer
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeCache(); err != nil {
		app.Cleanup()
		return nil, err
	}
	app.initializeFetcher()
	if err := app.initializeLoader(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeRenderer(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error releasing locks", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}

func (app *App) initializeCache() error {
	cfg := cache.DefaultConfig()
	cfg.Type = cache.Type(app.Config.CacheType)
	cfg.KeyPrefix = app.Config.CacheKeyPrefix
	if app.RedisClient != nil {
		cfg.RedisClient = app.RedisClient.GetGoRedisClient()
	}

	client, err := cache.New(cfg)
	if err != nil {
		return err
	}
	app.Cache = client

	opts := []cache.CoalescerOption{cache.WithLogger(app.Logger)}
	if app.Config.DistributedLocks {
		manager, err := locks.NewManager(app.RedisClient)
		if err != nil {
			return err
		}
		app.Locks = manager
		opts = append(opts, cache.WithLocker(manager, app.lockTTL()))
		app.Logger.Info("Distributed Locks: Enabled")
	}
	app.Coalescer = cache.NewCoalescer(client, opts...)

	app.Logger.Info("Cache: Ready", logging.String("type", string(cfg.Type)))
	return nil
}

// lockTTL covers one cacheFn computation
func (app *App) lockTTL() time.Duration {
	if d := app.Config.CallTimeoutDuration(); d > 0 {
		return d
	}
	return 30 * time.Second
}

func (app *App) initializeFetcher() {
	app.Breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), app.Logger)
	app.Fetcher = khttp.NewFetcher(khttp.NewHTTPClient(), app.Breakers)
}

func (app *App) initializeLoader() error {
	var stores loader.Chain

	if app.Config.TemplateDir != "" {
		dir, err := loader.NewDir(app.Config.TemplateDir)
		if err != nil {
			return err
		}
		stores = append(stores, dir)
		app.Logger.Info("Templates: Directory", logging.String("dir", app.Config.TemplateDir))
	}

	if app.Config.TemplateURL != "" {
		remote, err := loader.NewHTTP(app.Config.TemplateURL, app.Fetcher, app.Cache, app.Config.TemplateCacheTTLDuration())
		if err != nil {
			return err
		}
		stores = append(stores, remote)
		app.Logger.Info("Templates: Remote", logging.String("url", app.Config.TemplateURL))
	}

	app.Loader = loader.NewCached(loader.New(stores), app.Config.TemplateCacheTTLDuration())
	return nil
}

func (app *App) initializeRenderer() error {
	autoRequire, err := config.LoadAutoRequire(app.Config.AutoRequireFile)
	if err != nil {
		return err
	}
	if len(autoRequire) > 0 {
		app.Logger.Info("Auto-require configured", logging.Int("modules", len(autoRequire)))
	}

	app.Renderer = render.New(render.Config{
		Loader:              app.Loader,
		Cache:               app.Coalescer,
		Fetcher:             app.Fetcher,
		AutoRequire:         autoRequire,
		CallTimeout:         app.Config.CallTimeoutDuration(),
		MaxParallelRequires: app.Config.MaxParallelRequiresInt(),
		MaxDepth:            execution.DefaultMaxDepth,
		Logger:              app.Logger,
	})
	return nil
}
