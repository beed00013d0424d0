package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/transfer"
)

const idempotencyHeader = "Idempotency-Key"

type transferRequest struct {
	DestinationCVU   string `json:"destination_cvu,omitempty"`
	DestinationAlias string `json:"destination_alias,omitempty"`
	Amount           string `json:"amount"`
	Motive           string `json:"motive"`
	Reference        string `json:"reference,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

// createTransfer takes the idempotency key from the header or the body; the
// header wins when both are set.
func (a *API) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if len(key) > 128 {
		writeError(w, r, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is longer than 128 characters")
		return
	}

	res, err := a.svc.Transfer.Transfer(r.Context(), principal(r), transfer.Request{
		DestinationCVU:   req.DestinationCVU,
		DestinationAlias: req.DestinationAlias,
		Amount:           amount,
		Motive:           req.Motive,
		Reference:        req.Reference,
		IdempotencyKey:   key,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, res)
		return
	}
	a.auditEvent(r, "transfer.created", map[string]any{
		"transaction_id": res.Outgoing.ID,
		"amount":         res.Outgoing.Amount.StringFixed(2),
		"fee":            res.Outgoing.Fee.StringFixed(2),
		"external":       res.External,
		"status":         string(res.Outgoing.Status),
	})
	code := http.StatusCreated
	if res.External {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

type validateRequest struct {
	Destination string `json:"destination"`
}

func (a *API) validateDestination(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	d, err := a.svc.Transfer.ValidateDestination(r.Context(), principal(r), req.Destination)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type motive struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (a *API) listMotives(w http.ResponseWriter, r *http.Request) {
	out := make([]motive, 0, len(transfer.Motives))
	for code, desc := range transfer.Motives {
		out = append(out, motive{Code: code, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// quoteFee: ?amount=
func (a *API) quoteFee(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !amount.IsPositive() {
		a.fail(w, r, ledger.ErrInvalidAmount)
		return
	}
	fee := a.svc.Transfer.Fee(amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"amount": amount.StringFixed(2),
		"fee":    fee.StringFixed(2),
		"total":  amount.Add(fee).StringFixed(2),
	})
}

type contactRequest struct {
	CVU        string `json:"cvu"`
	Alias      string `json:"alias,omitempty"`
	Name       string `json:"name,omitempty"`
	IsFavorite bool   `json:"is_favorite,omitempty"`
}

func (a *API) listContacts(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Transfer.GetContacts(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []ledger.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) saveContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	c, err := a.svc.Transfer.SaveContact(r.Context(), principal(r), ledger.Contact{
		CVU:        req.CVU,
		Alias:      req.Alias,
		Name:       req.Name,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Transfer.DeleteContact(r.Context(), principal(r), chi.URLParam(r, "cvu")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Transfer.ToggleFavorite(r.Context(), principal(r), chi.URLParam(r, "cvu"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
