package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qwenstudio/internal/adapter/repo"
	"qwenstudio/internal/cache"
	"qwenstudio/internal/domain"
	"qwenstudio/internal/events"
	"qwenstudio/internal/http/handlers"
	httpapi "qwenstudio/internal/http/httpapi"
	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/infra/credentials"
	"qwenstudio/internal/infra/geoip"
	"qwenstudio/internal/providers/qwen"
	"qwenstudio/internal/session"
	"qwenstudio/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it creations are not recorded and the
	// API key must come from the environment.
	var (
		creations domain.CreationRepository
		credStore *credentials.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.OpenDB(ctx, cfg.DBOptions())
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()

		runner := infra.NewSQLRunner(pool, logger)
		creationRepo := repo.NewCreationRepository(runner)
		if err := creationRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: ensure schema failed")
		}
		creations = creationRepo
		credStore = credentials.NewStore(runner)
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, creations will not be recorded")
	}

	cred, err := credentials.ResolveDashScope(ctx, cfg.DashScopeAPIKey, credStore)
	if err != nil {
		logger.Warn().Err(err).Msg("api: load stored DashScope key failed")
	}
	if cred.Key == "" {
		logger.Warn().Msg("api: DASHSCOPE_API_KEY not configured, generations will fail")
	}

	client, err := qwen.NewClient(qwen.Options{
		APIKey:         cred.Key,
		BaseURL:        cfg.DashScopeEndpoint(cred.Region),
		Model:          cfg.DashScopeModel,
		RequestTimeout: cfg.DashScopeTimeout,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: qwen client init failed")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage init failed")
	}

	sinks := imagegen.MultiSink{imagegen.NewLogSink(logger)}
	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, &logger)
		if err != nil {
			logger.Warn().Err(err).Msg("api: event publishing disabled")
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}

	var snapshots session.SnapshotCache
	if cfg.RedisAddr != "" {
		snapshotCache, err := cache.Connect(ctx, cfg.RedisAddr, cache.DefaultTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("api: snapshot cache disabled")
		} else {
			defer snapshotCache.Close()
			snapshots = snapshotCache
		}
	}

	policy := imagegen.RetryPolicy{
		MaxRetries:   cfg.RetryMax,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
	}
	manager, err := session.NewManager(session.Options{
		Transport:    client,
		Sink:         sinks,
		Policy:       &policy,
		PollInterval: cfg.PollInterval,
		IdleTTL:      cfg.SessionIdleTTL,
		Cache:        snapshots,
		Creations:    creations,
		Store:        store,
		Downloader:   client,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: session manager init failed")
	}
	defer manager.Close()
	go manager.Run(ctx)

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()

	app := &handlers.App{
		Logger:    &logger,
		Qwen:      client,
		Sessions:  manager,
		Creations: creations,
		Store:     store,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          &logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   geoip.Lookup(resolver),
	})
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().Str("addr", server.Addr()).Msg("api: listening")
	if err := server.Run(ctx, nil); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
	}
	logger.Info().Msg("api: stopped")
}

func openStore(ctx context.Context, cfg *infra.Config) (storage.Store, error) {
	if cfg.MinioEndpoint == "" {
		return storage.NewFileStore(cfg.StoragePath)
	}
	objects, err := storage.NewObjectStore(storage.ObjectOptions{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Secure:    cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return objects, nil
}
