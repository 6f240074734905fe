// Command chatcore runs the chat message core: the SQLite-backed message
// store, the processing pipeline, history retention and the HTTP adapter.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-store/internal/config"
	"github.com/tbourn/go-chat-store/internal/events"
	httpapi "github.com/tbourn/go-chat-store/internal/http"
	"github.com/tbourn/go-chat-store/internal/observability"
	"github.com/tbourn/go-chat-store/internal/services"
	"github.com/tbourn/go-chat-store/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		errLog := sysutil.ConfigureLogger("error", true, os.Stderr)
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}
	lg := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	appVersion := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		lg.Fatal().Err(err).Msg("otel setup failed")
	}

	bus := events.NewBus()
	bus.Subscribe(events.LogTo(lg.With().Str("component", "events").Logger()))

	gormLog := logger.Default.LogMode(logger.Silent)
	if cfg.LogLevel == "debug" {
		gormLog = logger.Default.LogMode(logger.Info)
	}
	store, err := services.OpenMessageStore(ctx, services.StoreConfig{
		Path:            cfg.Storage.DBPath,
		CacheEnabled:    cfg.Storage.CacheEnabled,
		CacheCapacity:   cfg.Storage.CacheCapacity,
		MaxStorageBytes: cfg.Storage.MaxStorageBytes,
		Tracing:         cfg.OTEL.Enabled,
		GormLogger:      gormLog,
	}, services.WithStoreEvents(bus))
	if err != nil {
		lg.Fatal().Err(err).Str("path", cfg.Storage.DBPath).Msg("open message store")
	}

	pipeline := services.NewPipeline(pipelineConfig(cfg.Queue),
		services.WithPipelineEvents(bus), services.WithPipelineStorage(store))
	// The worker outlives the signal context so the queue can be flushed
	// during shutdown; Close stops it.
	if err := pipeline.Initialize(context.Background()); err != nil {
		lg.Fatal().Err(err).Msg("initialize pipeline")
	}
	if cfg.Queue.ProcessingEnabled {
		if err := pipeline.StartProcessing(); err != nil {
			lg.Fatal().Err(err).Msg("start processing")
		}
	}

	strategy, err := services.ParseCleanupStrategy(cfg.Retention.Strategy)
	if err != nil {
		lg.Fatal().Err(err).Msg("cleanup strategy")
	}
	history := services.NewHistoryManager(store, services.HistoryConfig{
		Enabled:           cfg.Retention.Enabled,
		RetentionDays:     cfg.Retention.RetentionDays,
		MaxMessages:       cfg.Retention.MaxMessages,
		MaxStorageBytes:   cfg.Storage.MaxStorageBytes,
		Strategy:          strategy,
		AutoCleanup:       cfg.Retention.AutoCleanup,
		CleanupInterval:   cfg.Retention.CleanupInterval,
		MaxDeletePerCycle: cfg.Retention.MaxDeletePerCycle,
	}, services.WithHistoryEvents(bus))
	history.Start(ctx)

	var srv *http.Server
	if cfg.HTTPEnabled {
		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, httpapi.Deps{Store: store, Pipeline: pipeline, History: history}, cfg)

		srv = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}
		go func() {
			lg.Info().
				Str("port", cfg.Port).
				Str("base_path", cfg.APIBasePath).
				Str("version", appVersion).
				Msg("starting chatcore HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Fatal().Err(err).Msg("server failed to start")
			}
		}()
	} else {
		lg.Info().Str("version", appVersion).Msg("chatcore running without HTTP adapter")
	}

	<-ctx.Done()
	lg.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	shutdown(shutdownCtx, lg, srv, history, pipeline, store, cfg.Queue.ProcessingEnabled)
	if err := shutdownOTel(shutdownCtx); err != nil {
		lg.Warn().Err(err).Msg("otel shutdown")
	}
	lg.Info().Msg("chatcore stopped")
}

// shutdown stops intake first, flushes whatever is still queued, then
// closes the store.
func shutdown(ctx context.Context, lg zerolog.Logger, srv *http.Server, history *services.HistoryManager,
	pipeline *services.Pipeline, store *services.MessageStore, flush bool) {
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			lg.Error().Err(err).Msg("server forced to shutdown")
		}
	}
	history.Stop()

	pipeline.StopProcessing()
	if flush {
		if n := pipeline.ProcessQueue(); n > 0 {
			lg.Info().Int("flushed", n).Msg("drained processing queue")
		}
	}
	if left := pipeline.FailedCount(); left > 0 {
		lg.Warn().Int("failed", left).Msg("messages still awaiting retry at shutdown")
	}
	pipeline.Close()

	if err := store.Close(); err != nil {
		lg.Error().Err(err).Msg("close message store")
	}
}

// pipelineConfig maps the queue settings onto the pipeline. MAX_RETRIES=0
// means no retries, which the pipeline spells as a negative limit.
func pipelineConfig(q config.QueueConfig) services.PipelineConfig {
	retries := q.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return services.PipelineConfig{
		QueueCapacity:     q.Capacity,
		MaxRetries:        retries,
		ProcessInterval:   q.ProcessInterval,
		RetryInterval:     q.RetryInterval,
		ProcessingEnabled: q.ProcessingEnabled,
	}
}
