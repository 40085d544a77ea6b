package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"marketwatch/internal/api"
	"marketwatch/internal/app"
	"marketwatch/internal/config"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closer, err := app.Logger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closer.Close()

	m := metrics.New()
	engine, err := app.Engine(cfg, log, m)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	sched, err := scheduler.New(func(ctx context.Context) { engine.RunCycle(ctx) }, cfg.Refresh.IntervalSec,
		scheduler.WithLogger(log), scheduler.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(engine, sched, log), m)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := sched.Start(cfg.Refresh.IntervalSec); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "symbols", engine.Symbols(), "pair", engine.Pair())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("server: %w", err)
	}

	log.Info("shutting down")
	sched.Stop()
	sched.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", slog.Any("error", err))
	}
	return nil
}
