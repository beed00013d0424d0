package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
)

type provisionRequest struct {
	UserID string `json:"user_id"`
}

// provisionAccount is the KYC approval hook. Repeated calls return the
// existing account with 200.
func (a *API) provisionAccount(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	acc, created, err := a.svc.Wallet.CreateAccount(r.Context(), req.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		a.auditEvent(r, "account.created", map[string]any{
			"account_user_id": acc.UserID,
			"cvu":             acc.CVU,
		})
	}
	writeJSON(w, code, acc)
}

func (a *API) runDailyReturns(w http.ResponseWriter, r *http.Request) {
	a.runSweep(w, r, a.svc.Investment.ProcessDailyReturnsOn)
}

func (a *API) runOverdueInstallments(w http.ResponseWriter, r *http.Request) {
	a.runSweep(w, r, a.svc.Financing.ProcessOverdueInstallmentsOn)
}

// runSweep triggers a sweep for ?date=YYYY-MM-DD, today by default.
func (a *API) runSweep(w http.ResponseWriter, r *http.Request, run func(context.Context, time.Time) (sweep.Report, error)) {
	at := time.Now()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		// noon UTC lands on the same calendar day in every ledger timezone
		at = d.Add(12 * time.Hour)
	}
	report, err := run(r.Context(), at)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "sweep.triggered", map[string]any{
		"sweep":     report.Sweep,
		"date":      report.Date.Format(time.DateOnly),
		"processed": report.Processed,
		"failed":    report.Failed,
	})
	writeJSON(w, http.StatusOK, report)
}

type settleRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) settleTransfer(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	status := ledger.TxStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	rec, err := a.svc.Transfer.SettleExternal(r.Context(), chi.URLParam(r, "id"), status, strings.TrimSpace(req.Reason))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "transfer.settled", map[string]any{
		"transaction_id": rec.ID,
		"owner":          rec.UserID,
		"status":         string(rec.Status),
	})
	writeJSON(w, http.StatusOK, rec)
}
