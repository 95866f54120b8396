package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/readiness-wizard/internal/identity"
)

func serveCORS(origins []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	called := false
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, "/api/wizard/session", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func TestCORS_AllowedOrigin(t *testing.T) {
	rec, called := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "http://localhost:5173")
	if !called {
		t.Fatal("expected request to reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for an explicit origin")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), identity.SessionHeaderName) {
		t.Error("expected session header to be allowed")
	}
	if rec.Header().Get("Access-Control-Expose-Headers") != identity.SessionHeaderName {
		t.Error("expected session header to be exposed")
	}
}

func TestCORS_WildcardHasNoCredentials(t *testing.T) {
	rec, _ := serveCORS([]string{"*"}, http.MethodGet, "https://any.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://any.example.com" {
		t.Error("expected wildcard to echo the origin")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard match must not allow credentials")
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	rec, called := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "https://evil.example.com")
	if !called {
		t.Fatal("expected request to reach the handler")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers for an unknown origin")
	}
}

func TestCORS_Preflight(t *testing.T) {
	rec, called := serveCORS([]string{"http://localhost:5173"}, http.MethodOptions, "http://localhost:5173")
	if called {
		t.Error("preflight should not reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Error("expected PUT in allowed methods")
	}
}
