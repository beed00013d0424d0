package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/audit"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k ledger.Kind) int {
	switch k {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindForbidden:
		return http.StatusForbidden
	case ledger.KindConflict, ledger.KindState:
		return http.StatusConflict
	case ledger.KindInsufficientFunds, ledger.KindInsufficientCredit, ledger.KindInsufficientCollateral,
		ledger.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case ledger.KindProvisioning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders an engine error. Unclassified errors are logged and hidden.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := ledger.AsError(err)
	if !ok || e.Kind == ledger.KindInternal {
		a.log.Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	body := errorBody{
		Error:     e.Message,
		Code:      e.Code,
		RequestID: audit.RequestIDFromContext(r.Context()),
	}
	if e.Shortfall {
		body.Required = e.Required.StringFixed(2)
		body.Available = e.Available.StringFixed(2)
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		a.opts.Audit.Rejected(r.Context(), r.Method+" "+routePattern(r), err)
	}
	writeJSON(w, statusFor(e.Kind), body)
}
