package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123"

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestGenerateAndValidate(t *testing.T) {
	s := newSigner(t)
	token, expiresAt, err := s.GenerateToken("user-42", []string{"Admin", "user", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := s.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, RoleAdmin) || !slices.Contains(claims.Roles, RoleUser) {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
}

func TestNewSignerRejectsWeakSecrets(t *testing.T) {
	if _, err := NewSigner("  ", ""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewSigner("short", ""); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	s := newSigner(t)
	good, _, err := s.GenerateToken("user-1", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewSigner("another-secret-0123456789", "")
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, _ := other.GenerateToken("user-1", nil, time.Minute)

	otherIssuer, _ := NewSigner(testSecret, "someone-else")
	wrongIss, _, _ := otherIssuer.GenerateToken("user-1", nil, time.Minute)

	past := newSigner(t).WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	expired, _, _ := past.GenerateToken("user-1", nil, time.Minute)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.jwt",
		"foreign":   foreign,
		"issuer":    wrongIss,
		"expired":   expired,
		"alg none":  none,
		"truncated": good[:len(good)-4],
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	s := newSigner(t)
	if _, _, err := s.GenerateToken(" ", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, _, err := s.GenerateToken("u", nil, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "user"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "user") || !HasRole(ctx, "ADMIN") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}

	if _, ok := TokenFromContext(ctx); ok {
		t.Fatal("no token attached yet")
	}
	ctx = ContextWithToken(ctx, "abc")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "abc" {
		t.Fatalf("token = %q, %v", tok, ok)
	}
}

func TestPrincipalFromClaims(t *testing.T) {
	s := newSigner(t)
	token, _, err := s.GenerateToken("ops", []string{"ADMIN"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	p := claims.Principal()
	if p.UserID != "ops" || !p.IsAdmin() {
		t.Fatalf("principal = %+v", p)
	}

	ctx := ContextWithToken(context.Background(), "orphan")
	if _, ok := TokenFromContext(ctx); ok {
		t.Fatal("token without a principal must be dropped")
	}
	if _, ok := PrincipalFromContext(ContextWithUser(context.Background(), "  ", nil)); ok {
		t.Fatal("blank user id is not a principal")
	}
}
