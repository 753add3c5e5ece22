package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	service := NewService("test-secret", time.Hour)

	token, err := service.Issue("user-1", "Jo")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	principal, err := service.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if principal.Subject != "user-1" || principal.Name != "Jo" {
		t.Errorf("principal = %+v", principal)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).Issue("user-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	service := NewService("test-secret", time.Hour)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := service.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken", err)
	}
}

func TestNoExpiryWithZeroDuration(t *testing.T) {
	service := NewService("test-secret", 0)

	token, err := service.Issue("user-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := service.Verify(token); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestDisabledService(t *testing.T) {
	service := NewService("", time.Hour)

	if service.Enabled() {
		t.Error("Enabled() = true for empty secret")
	}
	if _, err := service.Issue("user-1", ""); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Issue = %v, want ErrAuthDisabled", err)
	}
	if _, err := service.Verify("whatever"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Verify = %v, want ErrAuthDisabled", err)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	if _, err := service.Issue("  ", ""); err == nil {
		t.Error("Issue accepted blank subject")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	if _, err := service.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken", err)
	}
}
