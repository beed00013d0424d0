package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/app"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/audit"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/config"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/httpapi"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/obs"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/scheduler"
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
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo("api")

	signer, err := auth.NewSigner(cfg.AuthSecret, "")
	if err != nil {
		return fmt.Errorf("AUTH_SECRET: %w", err)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}()

	api, err := httpapi.New(a.Services(), httpapi.Options{
		Version:     obs.Version,
		Ready:       a.Ready(),
		Signer:      signer,
		Hub:         a.Hub,
		Audit:       audit.New(log),
		Log:         log,
		CORSOrigins: cfg.Origins(),
		RateBurst:   cfg.RateLimitBurst,
		RatePerSec:  cfg.RateLimitPerSec,
		MaxBody:     cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE streams stay open, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewGRPCServer(a.Ready(), log)
	grpcSrv := health.NewServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	}
	go health.Watch(ctx, 10*time.Second)

	var sched *scheduler.Scheduler
	if cfg.RunScheduler {
		sched = a.Scheduler()
		if err := sched.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", obs.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("sweeps still running at shutdown")
		}
	}
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("http shutdown", zap.Error(shutdownErr))
	}
	grpcSrv.GracefulStop()
	log.Info("stopped")
	return err
}
