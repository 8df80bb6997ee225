package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tsunami"
	"tsunami/internal/config"
	eventhandler "tsunami/internal/event/handler"
	"tsunami/migrations"
	"tsunami/pkg/platform/middleware"
)

// main wires the standalone server: migrations, the engine and the
// read-only query API. Hosts embedding the engine in their own process use
// tsunami.NewEngine directly and skip this binary.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrations.Up(db); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	engine, err := tsunami.NewEngine(cfg, db, logger)
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	if cfg.JWTSigningKey != "" {
		router.Use(middleware.Actor([]byte(cfg.JWTSigningKey), logger))
	}
	eventhandler.New(engine.Store, logger).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting tsunami", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
