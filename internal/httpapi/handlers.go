package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/audit"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/obs"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/transfer"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

const serviceName = "simply-ledger"

// ReadyCheck pings the database. A nil DB is the in-memory store and is
// always ready.
type ReadyCheck struct {
	DB *sql.DB
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the engines the API exposes.
type Services struct {
	Wallet     *wallet.Service
	Investment *investment.Service
	Financing  *financing.Service
	Transfer   *transfer.Service
}

// Options tune the HTTP surface. Zero values fall back to defaults.
type Options struct {
	Version     string
	Ready       ReadyCheck
	Signer      *auth.Signer
	Hub         *events.Hub
	Audit       *audit.Logger
	Log         *zap.Logger
	CORSOrigins []string
	RateBurst   int
	RatePerSec  float64
	MaxBody     int64
	TokenTTL    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Audit == nil {
		o.Audit = audit.New(o.Log)
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 10
	}
	if o.MaxBody <= 0 {
		o.MaxBody = 1 << 20
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
	if o.Version == "" {
		o.Version = obs.Version
	}
	return o
}

// API is the HTTP layer over the ledger engines.
type API struct {
	svc     Services
	opts    Options
	log     *zap.Logger
	limiter *ipLimiter
	router  chi.Router
}

// New wires the router. The signer is required: every /v1 and /internal route
// is authenticated.
func New(svc Services, opts Options) (*API, error) {
	if opts.Signer == nil {
		return nil, errors.New("httpapi: signer is required")
	}
	if svc.Wallet == nil || svc.Investment == nil || svc.Financing == nil || svc.Transfer == nil {
		return nil, errors.New("httpapi: all services are required")
	}
	opts = opts.withDefaults()
	a := &API{
		svc:     svc,
		opts:    opts,
		log:     opts.Log.Named("http"),
		limiter: newIPLimiter(opts.RatePerSec, opts.RateBurst),
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(obs.Instrument(routePattern))
	r.Use(a.AccessLog)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	r.Use(a.limiter.Middleware)
	r.Use(MaxBodyBytes(a.opts.MaxBody))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.Authenticate)

		r.Route("/v1/wallet", func(r chi.Router) {
			r.Get("/balance", a.getBalance)
			r.Get("/account", a.getAccount)
			r.Put("/alias", a.updateAlias)
			r.Get("/movements", a.getMovements)
			r.Get("/reconcile", a.reconcile)
		})
		r.Route("/v1/investments", func(r chi.Router) {
			r.Get("/", a.listInvestments)
			r.Post("/", a.createInvestment)
			r.Get("/simulate", a.simulateInvestment)
			r.Get("/{id}", a.getInvestment)
			r.Post("/{id}/liquidate", a.liquidateInvestment)
		})
		r.Route("/v1/financings", func(r chi.Router) {
			r.Get("/", a.listFinancings)
			r.Post("/", a.createFinancing)
			r.Get("/simulate", a.simulateFinancing)
			r.Get("/{id}", a.getFinancing)
			r.Post("/{id}/drop", a.dropFinancing)
		})
		r.Post("/v1/installments/{id}/pay", a.payInstallment)
		r.Route("/v1/transfers", func(r chi.Router) {
			r.Post("/", a.createTransfer)
			r.Post("/validate", a.validateDestination)
			r.Get("/motives", a.listMotives)
			r.Get("/fee", a.quoteFee)
		})
		r.Route("/v1/contacts", func(r chi.Router) {
			r.Get("/", a.listContacts)
			r.Post("/", a.saveContact)
			r.Delete("/{cvu}", a.deleteContact)
			r.Post("/{cvu}/favorite", a.toggleFavorite)
		})
		r.Get("/v1/events", a.Stream)

		r.Route("/internal", func(r chi.Router) {
			r.Use(RequireRole(auth.RoleAdmin))
			r.Post("/accounts", a.provisionAccount)
			r.Post("/tokens", a.issueToken)
			r.Post("/sweeps/daily-returns", a.runDailyReturns)
			r.Post("/sweeps/overdue-installments", a.runOverdueInstallments)
			r.Post("/transfers/{id}/settle", a.settleTransfer)
		})
	})
	return r
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	return a.router
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.opts.Version,
		"commit":      obs.Commit,
		"annual_rate": a.svc.Investment.AnnualRate().String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

// badBody writes the 4xx that matches a decodeJSON failure.
func badBody(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
}

func parsePositiveInt(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q must be a positive integer", raw)
	}
	return n, nil
}

// principal returns the authenticated user. Authenticate guarantees it is set.
func principal(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
