package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
)

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := a.svc.Wallet.GetBalance(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Wallet.Account(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type aliasRequest struct {
	Alias string `json:"alias"`
}

func (a *API) updateAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	acc, err := a.svc.Wallet.UpdateAlias(r.Context(), principal(r), req.Alias)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "wallet.alias_updated", map[string]any{"alias": acc.Alias})
	writeJSON(w, http.StatusOK, acc)
}

// getMovements: ?page=&limit=&type=&date_from=&date_to= (YYYY-MM-DD or RFC3339)
func (a *API) getMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	f := ledger.MovementFilter{
		Page:  page,
		Limit: limit,
		Type:  ledger.TxType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
	}
	if f.DateFrom, err = parseDate(q.Get("date_from"), false); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	if f.DateTo, err = parseDate(q.Get("date_to"), true); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	out, err := a.svc.Wallet.GetMovements(r.Context(), principal(r), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Wallet.Reconcile(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseDate accepts a calendar date or a timestamp. A bare date used as an
// upper bound becomes the start of the next day, since the bound is exclusive.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.New("dates must be YYYY-MM-DD or RFC3339")
	}
	if endOfDay {
		t = t.Add(24 * time.Hour)
	}
	return &t, nil
}

// parseAmount reads a decimal string with at most two fractional digits.
func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, ledger.ErrInvalidAmount.Withf("amount %q: %v", raw, err)
	}
	return d, nil
}

func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	_ = a.opts.Audit.LogEvent(r.Context(), event, fields)
}
