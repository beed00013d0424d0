package auth

import (
	"context"
	"slices"
	"strings"
)

type ctxKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Roles  []string
	// Token is the raw bearer token, kept for audit correlation.
	Token string
}

// IsAdmin reports whether the principal may use /internal operations and see
// every user's events.
func (p Principal) IsAdmin() bool { return slices.Contains(p.Roles, RoleAdmin) }

// Principal returns the caller described by validated claims.
func (c *Claims) Principal() Principal {
	return Principal{UserID: strings.TrimSpace(c.Subject), Roles: dedupeRoles(c.Roles)}
}

// ContextWithPrincipal attaches p. Roles are normalised on the way in.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	p.UserID = strings.TrimSpace(p.UserID)
	p.Roles = dedupeRoles(p.Roles)
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFromContext returns the caller, if one was authenticated.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// ContextWithUser is ContextWithPrincipal without a token.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return ContextWithPrincipal(ctx, Principal{UserID: userID, Roles: roles})
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UserID, ok
}

// RolesFromContext returns a copy of the caller's roles, lower-cased.
func RolesFromContext(ctx context.Context) []string {
	p, _ := PrincipalFromContext(ctx)
	return slices.Clone(p.Roles)
}

// HasRole reports whether the caller holds role. Matching ignores case.
func HasRole(ctx context.Context, role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	p, ok := PrincipalFromContext(ctx)
	return ok && role != "" && slices.Contains(p.Roles, role)
}

// ContextWithToken records the raw bearer token on the current principal.
// Without a principal, or with an empty token, ctx is returned unchanged.
func ContextWithToken(ctx context.Context, token string) context.Context {
	p, ok := PrincipalFromContext(ctx)
	if !ok || token == "" {
		return ctx
	}
	p.Token = token
	return context.WithValue(ctx, ctxKey{}, p)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	p, _ := PrincipalFromContext(ctx)
	return p.Token, p.Token != ""
}
