package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

type financingRequest struct {
	InvestmentID      string `json:"investment_id"`
	Amount            string `json:"amount"`
	InstallmentsCount int    `json:"installments_count"`
	Description       string `json:"description,omitempty"`
}

func (a *API) listFinancings(w http.ResponseWriter, r *http.Request) {
	status := ledger.FinancingStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", ledger.FinancingActive, ledger.FinancingCompleted, ledger.FinancingLiquidated:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown financing status")
		return
	}
	list, err := a.svc.Financing.List(r.Context(), principal(r), status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Financing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createFinancing(w http.ResponseWriter, r *http.Request) {
	var req financingRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	d, err := a.svc.Financing.Create(r.Context(), principal(r), financing.Request{
		InvestmentID:      strings.TrimSpace(req.InvestmentID),
		Amount:            amount,
		InstallmentsCount: req.InstallmentsCount,
		Description:       strings.TrimSpace(req.Description),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "financing.created", map[string]any{
		"financing_id":  d.ID,
		"investment_id": d.InvestmentID,
		"amount":        d.Amount.StringFixed(2),
		"installments":  d.InstallmentsCount,
	})
	writeJSON(w, http.StatusCreated, d)
}

// simulateFinancing: ?amount=&installments=
func (a *API) simulateFinancing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := parsePositiveInt(q.Get("installments"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_installments", err.Error())
		return
	}
	plan, err := a.svc.Financing.Simulate(amount, n)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) getFinancing(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Financing.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) payInstallment(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Financing.PayInstallment(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "installment.paid", map[string]any{
		"installment_id": p.Installment.ID,
		"financing_id":   p.Financing.ID,
		"total":          p.Transaction.Total.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) dropFinancing(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.Financing.DropFinancing(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "financing.dropped", map[string]any{
		"financing_ids":    b.FinancingIDs,
		"investment_id":    b.InvestmentID,
		"penalty":          b.PenaltyCharged.StringFixed(2),
		"returned_to_user": b.ReturnedToUser.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, b)
}
