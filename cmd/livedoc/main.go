package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/config"
	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/db/memory"
	dbRedis "github.com/kailas-cloud/livedoc/internal/db/redis"
	logpkg "github.com/kailas-cloud/livedoc/internal/logger"
	"github.com/kailas-cloud/livedoc/internal/metrics"
	documentrepo "github.com/kailas-cloud/livedoc/internal/repository/document"
	"github.com/kailas-cloud/livedoc/internal/repository/schema"
	"github.com/kailas-cloud/livedoc/internal/repository/txfeed"
	chiTransport "github.com/kailas-cloud/livedoc/internal/transport/chi"
	healthuc "github.com/kailas-cloud/livedoc/internal/usecase/health"
	"github.com/kailas-cloud/livedoc/internal/usecase/livequery"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
	"github.com/kailas-cloud/livedoc/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting livedoc API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("built", version.Date),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("model", cfg.Model.Path),
	)

	m, err := schema.Load(cfg.Model.Path)
	if err != nil {
		logger.Fatal("Failed to load model", zap.Error(err))
	}

	// Create database store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store = memory.NewStore()
	case config.DriverRedis, config.DriverValkey:
		// Valkey speaks the same protocol; the JSON module is required on both.
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Database.Addrs,
			Username:  cfg.Database.Username,
			Password:  cfg.Database.Password,
			DB:        cfg.Database.DB,
			KeyPrefix: cfg.Storage.KeyPrefix,
		})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.Register()

	storageSvc := storage.New(documentrepo.New(store, m), m, logger)
	engine := livequery.New(storageSvc, m, logger)
	healthSvc := healthuc.New(store)

	if cfg.Feed.Enabled {
		feed := txfeed.New(store, cfg.Feed.Channel, logger)
		storageSvc.WithFeed(feed)
		listener := newFeedListener()
		healthSvc.WithCheck("feed", listener)
		go func() {
			logger.Info("Listening to transaction feed",
				zap.String("channel", cfg.Feed.Channel),
				zap.String("origin", feed.Origin()),
			)
			err := feed.Listen(ctx, engine.Apply)
			listener.stopped(err)
			if err != nil && ctx.Err() == nil {
				logger.Error("Transaction feed stopped", zap.Error(err))
			}
		}()
	}

	server := chiTransport.NewServer(storageSvc, engine, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	// Watch streams only end when their request context is cancelled.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	engine.Close()

	logger.Info("Server stopped gracefully")
}

// feedListener reports the transaction feed as unhealthy once its listener has stopped.
type feedListener struct {
	done chan struct{}
	err  error
}

func newFeedListener() *feedListener {
	return &feedListener{done: make(chan struct{})}
}

func (l *feedListener) stopped(err error) {
	if err == nil {
		err = fmt.Errorf("listener returned")
	}
	l.err = err
	close(l.done)
}

func (l *feedListener) HealthCheck(_ context.Context) error {
	select {
	case <-l.done:
		return fmt.Errorf("transaction feed: %w", l.err)
	default:
		return nil
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    "internal_error",
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// One line per request; watch streams log when they close.
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
