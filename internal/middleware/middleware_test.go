package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/EmpoweredVote/EV-Geography/internal/middleware"
)

// call wraps a simple 200-OK inner handler in the provided middleware and
// returns the recorded response.
func call(t *testing.T, mw func(http.Handler) http.Handler, method, origin string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/jobs", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

// TestCORSMiddleware_AllowedOrigin verifies that an allow-listed origin is echoed back.
func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	rec := call(t, middleware.CORSMiddleware, http.MethodGet, "http://localhost:5173")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected origin to be echoed, got %q", got)
	}
}

// TestCORSMiddleware_UnknownOrigin verifies that other origins get no CORS headers.
func TestCORSMiddleware_UnknownOrigin(t *testing.T) {
	rec := call(t, middleware.CORSMiddleware, http.MethodGet, "https://evil.example")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
}

// TestCORSMiddleware_Preflight verifies that OPTIONS short-circuits with 204.
func TestCORSMiddleware_Preflight(t *testing.T) {
	rec := call(t, middleware.CORSMiddleware, http.MethodOptions, "http://localhost:5174")

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

// TestAllowOrigins verifies that configured origins join the allow-list.
func TestAllowOrigins(t *testing.T) {
	middleware.AllowOrigins(" https://maps.example , ")
	rec := call(t, middleware.CORSMiddleware, http.MethodGet, "https://maps.example")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://maps.example" {
		t.Errorf("expected configured origin to be allowed, got %q", got)
	}
}

// TestRequestLogger verifies that each request is logged with its status.
func TestRequestLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	call(t, middleware.RequestLogger(logrus.NewEntry(log)), http.MethodGet, "")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["status"] != http.StatusOK {
		t.Errorf("expected status 200 in log, got %v", entry.Data["status"])
	}
	if entry.Data["path"] != "/jobs" {
		t.Errorf("expected path /jobs in log, got %v", entry.Data["path"])
	}
}

// withAuth runs the AdminToken guard over a 200-OK handler with the given
// Authorization header.
func withAuth(t *testing.T, token, header string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs/import", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	middleware.AdminToken(token)(inner).ServeHTTP(rec, req)
	return rec
}

// TestAdminToken verifies the bearer check on the admin routes.
func TestAdminToken(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"valid token", "s3cret", "Bearer s3cret", http.StatusOK},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer nope", http.StatusForbidden},
		{"no token configured", "", "Bearer ", http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := withAuth(t, tc.token, tc.header)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}
