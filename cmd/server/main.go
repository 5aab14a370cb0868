package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "dogetionary/internal/api/http"
	"dogetionary/internal/app"
	"dogetionary/internal/domain"
	"dogetionary/internal/domain/ports"
	"dogetionary/internal/metrics"
	mongorepo "dogetionary/internal/repository/mongo"
	redisrepo "dogetionary/internal/repository/redis"
	"dogetionary/internal/services/remote"
	"dogetionary/internal/services/video"
	"dogetionary/internal/storage/questioncache"
	"dogetionary/internal/storage/videocache"
	"dogetionary/internal/telemetry"
	"dogetionary/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "review-queue",
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "review-queue"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("apiBaseUrl", cfg.APIBaseURL),
		slog.Int("targetQueueSize", cfg.QueueTargetSize),
		slog.Int("maxConcurrentFetches", cfg.QueueMaxConcurrent),
		slog.String("videoCacheDir", cfg.VideoCacheDir),
		slog.Int64("videoCacheMaxBytes", cfg.VideoCacheMaxBytes),
		slog.String("questionCacheBackend", cfg.QuestionCacheBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var mongoClient *mongo.Client
	if strings.TrimSpace(cfg.MongoURI) != "" {
		mongoClient, err = mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	questionCache, closeQuestionCache, err := openQuestionCache(ctx, cfg, mongoClient, logger)
	if err != nil {
		logger.Error("question cache init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiTimeout := time.Duration(cfg.APITimeoutSeconds) * time.Second
	client := remote.NewClient(remote.Config{
		BaseURL:     cfg.APIBaseURL,
		Client:      &http.Client{Timeout: apiTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		VideoClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:      logger,
	})

	hub := apihttp.NewHub(logger)

	videoStore, err := videocache.New(cfg.VideoCacheDir, cfg.VideoCacheMaxBytes, logger)
	if err != nil {
		logger.Error("video cache init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	coordinator := video.NewCoordinator(client, videoStore, hub, logger, video.Config{
		PreloadConcurrency: cfg.VideoPreloadConcurrency,
	})
	players := video.NewPlayerPool(logger)

	initial := app.DefaultQueueSettings(cfg)
	retryCfg := remote.DefaultRetryConfig()
	fetcher := usecase.NewFetchQuestion(usecase.FetchQuestionConfig{
		Source: client,
		Videos: coordinator,
		Cache:  questionCache,
		Logger: logger,
		Retry: func(ctx context.Context, fn func() error) error {
			return remote.RetryWithBackoff(ctx, retryCfg, fn)
		},
		Profile: initial.Profile,
	})
	queue := usecase.NewReviewQueue(fetcher, players, hub, logger, usecase.ReviewQueueConfig{
		TargetQueueSize:      cfg.QueueTargetSize,
		MaxConcurrentFetches: cfg.QueueMaxConcurrent,
		DiscardStale:         cfg.QueueDiscardStale,
	})

	var settingsStore app.QueueSettingsStore
	if mongoClient != nil {
		settingsStore = mongorepo.NewQueueSettingsRepository(mongoClient, cfg.MongoDatabase)
	}
	settings := app.NewQueueSettingsManager(
		queueSettingsEngine{queue: queue, fetcher: fetcher, store: videoStore},
		settingsStore,
		initial,
	)
	if loaded, err := settings.Load(ctx); err != nil {
		logger.Warn("queue settings load failed", slog.String("error", err.Error()))
	} else if loaded {
		logger.Info("queue settings restored", slog.Any("settings", settings.Get()))
	}

	janitor := &usecase.CacheJanitor{
		Store:      videoStore,
		Logger:     logger,
		MaxAgeDays: cfg.VideoCacheMaxAgeDays,
		Interval:   time.Duration(cfg.VideoCachePurgeHours) * time.Hour,
		OnPurge:    func(int) { coordinator.Forget() },
	}
	if err := janitor.Start(); err != nil {
		logger.Warn("video cache janitor start failed", slog.String("error", err.Error()))
	}

	handler := apihttp.NewServer(queue,
		apihttp.WithLogger(logger),
		apihttp.WithHub(hub),
		apihttp.WithVideos(coordinator),
		apihttp.WithVideoCache(videoStore),
		apihttp.WithQueueSettings(settings),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	go updateCacheMetrics(rootCtx, videoStore)

	started := queue.RefillIfNeeded()
	logger.Info("initial refill", slog.Int("fetches", started))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	janitor.Stop()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	queue.Close()
	coordinator.Close()
	hub.Close()
	if closeQuestionCache != nil {
		if err := closeQuestionCache(); err != nil {
			logger.Warn("question cache close error", slog.String("error", err.Error()))
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// openQuestionCache builds the backend selected by QUESTION_CACHE_BACKEND.
// The returned close func may be nil.
func openQuestionCache(ctx context.Context, cfg app.Config, mongoClient *mongo.Client, logger *slog.Logger) (ports.QuestionCache, func() error, error) {
	switch cfg.QuestionCacheBackend {
	case "redis":
		client, err := redisrepo.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisrepo.NewQuestionCache(client, ports.QuestionCacheTTL), client.Close, nil
	case "mongo":
		if mongoClient == nil {
			return nil, nil, errors.New("mongo question cache requires MONGO_URI")
		}
		repo := mongorepo.NewQuestionCacheRepository(mongoClient, cfg.MongoDatabase, ports.QuestionCacheTTL)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		return repo, nil, nil
	case "", "disk":
		cache, err := questioncache.NewDiskCache(cfg.QuestionCacheDir, ports.QuestionCacheTTL, logger)
		if err != nil {
			return nil, nil, err
		}
		return cache, nil, nil
	default:
		return nil, nil, errors.New("unknown question cache backend: " + cfg.QuestionCacheBackend)
	}
}

// queueSettingsEngine fans runtime settings out to the components that own them.
type queueSettingsEngine struct {
	queue   *usecase.ReviewQueue
	fetcher *usecase.FetchQuestion
	store   *videocache.Store
}

func (e queueSettingsEngine) ApplyLimits(targetQueueSize, maxConcurrentFetches int) {
	e.queue.ApplyLimits(targetQueueSize, maxConcurrentFetches)
}

func (e queueSettingsEngine) SetMaxCacheBytes(v int64) {
	e.store.SetMaxBytes(v)
}

func (e queueSettingsEngine) SetProfile(p domain.Profile) {
	e.fetcher.SetProfile(p)
}

func (e queueSettingsEngine) ForceRefresh() {
	e.queue.ForceRefresh()
}

func updateCacheMetrics(ctx context.Context, store *videocache.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.VideoCacheSizeBytes.Set(float64(store.TotalSize()))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
