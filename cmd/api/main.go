package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claims-dialer/internal/auth"
	"claims-dialer/internal/config"
	"claims-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
	_ "time/tzdata"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	be, err := openBackends(rootCtx, cfg, log)
	if err != nil {
		log.Error("backend init failed", "err", err)
		os.Exit(1)
	}
	defer be.Close()

	a, err := buildApp(cfg, be, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.events.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/readyz"))
	registerRoutes(r, cfg, a, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           corsHandler(cfg.App.AllowedOrigins, r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "queue_backend", cfg.Routing.QueueBackend, "postgres", be.db != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.reaper.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		// Background caller lookups finish before stores close.
		a.router.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("api stopped")
}
