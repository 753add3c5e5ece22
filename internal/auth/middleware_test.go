package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func protectedHandler(t *testing.T, wantSubject string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantSubject != "" {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				t.Error("no principal in request context")
			} else if principal.Subject != wantSubject {
				t.Errorf("subject = %q, want %q", principal.Subject, wantSubject)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	token, err := service.Issue("user-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	handler := Middleware(service, nil)(protectedHandler(t, "user-1"))
	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	handler := Middleware(service, nil)(protectedHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	handler := Middleware(service, nil)(protectedHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("Authorization", "Bearer tampered")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	service := NewService("", time.Hour)
	handler := Middleware(service, nil)(protectedHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestExtractBearerCaseInsensitive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BEARER abc123")
	if got := extractBearer(req); got != "abc123" {
		t.Errorf("extractBearer = %q, want abc123", got)
	}

	req.Header.Set("Authorization", "Basic abc123")
	if got := extractBearer(req); got != "" {
		t.Errorf("extractBearer = %q, want empty for Basic", got)
	}
}
