package auth

import (
	"errors"
	"testing"
	"time"
)

func TestOperatorTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, []int64{7})
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	token, expiresAt, err := m.GenerateOperatorToken(7)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %s", expiresAt)
	}

	claims, err := m.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.OperatorID != 7 || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestGenerateRejectsNonOperator(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, []int64{7})
	if _, _, err := m.GenerateOperatorToken(8); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, []int64{7})
	issued := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }
	token, _, err := m.GenerateOperatorToken(7)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := m.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token to be unauthorized, got %v", err)
	}

	other := NewJWTManager("other-secret", time.Hour, []int64{7})
	other.now = func() time.Time { return issued }
	if _, err := other.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign signature to be unauthorized, got %v", err)
	}

	// Operator removed from the allow-list after the token was issued.
	m.now = func() time.Time { return issued }
	revoked := NewJWTManager("secret", time.Minute, nil)
	revoked.now = m.now
	if _, err := revoked.ParseAccessToken(token); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for revoked operator, got %v", err)
	}
}
