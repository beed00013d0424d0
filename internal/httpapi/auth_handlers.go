package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type tokenRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
	TTL   string   `json:"ttl,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const maxTokenTTL = 24 * time.Hour

// issueToken lets an operator mint a token for a user, e.g. for the
// provisioning collaborator or support sessions.
func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, r, err)
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_user", "user is required")
		return
	}
	ttl := a.opts.TokenTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 || d > maxTokenTTL {
			writeError(w, r, http.StatusBadRequest, "invalid_ttl", "ttl must be a duration between 1s and 24h")
			return
		}
		ttl = d
	}

	token, expiresAt, err := a.opts.Signer.GenerateToken(user, req.Roles, ttl)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.auditEvent(r, "token.issued", map[string]any{
		"subject": user,
		"roles":   req.Roles,
		"expires": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
