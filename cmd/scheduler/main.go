// Command scheduler runs the daily sweeps on their cron schedules and serves
// /metrics and /healthz for the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/app"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/config"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/obs"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := obs.MustLogger(cfg.LogMode)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("scheduler stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo("scheduler")

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sched := a.Scheduler()
	if err := sched.Start(); err != nil {
		return err
	}
	for _, next := range sched.Entries() {
		log.Info("next run", zap.Time("at", next))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down, waiting for running sweeps")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("sweeps did not finish in time")
	}
	return srv.Shutdown(shutdownCtx)
}
