package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/auth/login":                 "/auth/login",
		"/admin/users":                "/admin/users",
		"/admin/users?limit=10":       "/admin/users",
		"/admin/users/abc/activate":   "/admin/users/:id/activate",
		"/admin/users/abc/deactivate": "/admin/users/:id/deactivate",
		"/admin/users/abc/extra":      "/admin/users/abc/extra",
		"/admin/audit?limit=5":        "/admin/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/brew", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/brew", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
	if got := testutil.ToFloat64(httpInFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
}
