package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

func (a *API) listInvestments(w http.ResponseWriter, r *http.Request) {
	status := ledger.InvestmentStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", ledger.InvestmentActive, ledger.InvestmentLiquidated, ledger.InvestmentLiquidatedByPenalty:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown investment status")
		return
	}
	list, err := a.svc.Investment.List(r.Context(), principal(r), status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Investment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createInvestment(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	inv, err := a.svc.Investment.Create(r.Context(), principal(r), amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "investment.created", map[string]any{
		"investment_id": inv.ID,
		"amount":        inv.Amount.StringFixed(2),
	})
	writeJSON(w, http.StatusCreated, inv)
}

// simulateInvestment: ?amount=&months=
func (a *API) simulateInvestment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	months, err := parsePositiveInt(q.Get("months"), 12)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_months", err.Error())
		return
	}
	p, err := a.svc.Investment.Simulate(amount, months)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) getInvestment(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Investment.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if d.Returns == nil {
		d.Returns = []ledger.Return{}
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) liquidateInvestment(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.Investment.Liquidate(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "investment.liquidated", map[string]any{
		"investment_id": inv.ID,
		"credited":      inv.CurrentValue.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, inv)
}
