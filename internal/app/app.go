// Package app assembles the store, the engines and the event fan-out from
// configuration. Every binary boots through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/config"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/httpapi"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/obs"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/scheduler"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/store/pg"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/transfer"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

// App is a booted ledger.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	Store  ledger.Store
	// DB is set when the ledger lives in PostgreSQL.
	DB  *sql.DB
	Hub *events.Hub

	Wallet     *wallet.Service
	Investment *investment.Service
	Financing  *financing.Service
	Transfer   *transfer.Service

	closers []func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	store ledger.Store
}

// WithStore replaces the store selected by DATABASE_URL.
func WithStore(s ledger.Store) Option {
	return func(o *options) { o.store = s }
}

// New opens the store and wires the engines. An empty DATABASE_URL selects
// the in-memory store.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log, Hub: events.NewHub()}
	switch {
	case o.store != nil:
		a.Store = o.store
	case cfg.DatabaseURL != "":
		st, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.Store, a.DB = st, st.DB()
		a.closers = append(a.closers, st.Close)
	default:
		log.Warn("DATABASE_URL is empty, using the in-memory ledger")
		a.Store = ledger.NewMemStore()
	}

	pubs := events.Multi{a.Hub, obs.EventCounter{}}
	if cfg.RabbitMQURL != "" {
		amqp, err := events.DialAMQP(cfg.RabbitMQURL, cfg.EventsExchange, log)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		pubs = append(pubs, amqp)
		a.closers = append(a.closers, amqp.Close)
	}

	a.Wallet = wallet.New(a.Store, cfg.Wallet(), log.Named("wallet"), pubs)
	a.Investment = investment.New(a.Store, cfg.Investment(), log.Named("investment"), pubs).
		WithObserver(obs.SweepObserver{})
	a.Financing = financing.New(a.Store, cfg.Financing(), log.Named("financing"), pubs).
		WithObserver(obs.SweepObserver{})
	a.Transfer = transfer.New(a.Store, cfg.Transfer(), log.Named("transfer"), pubs)
	return a, nil
}

// Services returns the engines in the shape the HTTP layer expects.
func (a *App) Services() httpapi.Services {
	return httpapi.Services{
		Wallet:     a.Wallet,
		Investment: a.Investment,
		Financing:  a.Financing,
		Transfer:   a.Transfer,
	}
}

// Ready pings the database, if any.
func (a *App) Ready() httpapi.ReadyCheck {
	return httpapi.ReadyCheck{DB: a.DB}
}

// Scheduler builds the cron runner for both sweeps.
func (a *App) Scheduler() *scheduler.Scheduler {
	jobs := scheduler.NewJobs(a.Investment, a.Financing, a.Log.Named("jobs"), 30*time.Minute)
	return scheduler.New(jobs, a.Log.Named("scheduler"), scheduler.Config{
		ReturnsSchedule: a.Config.ReturnsSchedule,
		OverdueSchedule: a.Config.OverdueSchedule,
		Location:        a.Config.Location(),
	})
}

// Ping checks the store connection when there is one.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

// Close releases the store and the broker connection in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
