package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/metrics"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.Header.Set(RequestIDHeader, "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != "abc" || rec.Header().Get(RequestIDHeader) != "abc" {
			t.Errorf("context id = %q, header = %q, want abc", seen, rec.Header().Get(RequestIDHeader))
		}
	})
	t.Run("assigns id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
		if len(seen) != 24 || rec.Header().Get(RequestIDHeader) != seen {
			t.Errorf("context id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
		}
	})
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://docs.example.org"}
	called := false
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantAllow  string
		wantCalled bool
		wantStatus int
	}{
		{"no origin", http.MethodGet, "", "", true, http.StatusOK},
		{"allowed origin", http.MethodGet, "https://docs.example.org", "https://docs.example.org", true, http.StatusOK},
		{"other origin", http.MethodGet, "https://evil.example", "", true, http.StatusOK},
		{"preflight", http.MethodOptions, "https://docs.example.org", "https://docs.example.org", false, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(tt.method, "/search", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	t.Run("fast handler", func(t *testing.T) {
		h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test", "yes")
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("ok"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
		if rec.Code != http.StatusTeapot || rec.Body.String() != "ok" || rec.Header().Get("X-Test") != "yes" {
			t.Errorf("got %d %q headers %v", rec.Code, rec.Body.String(), rec.Header())
		}
	})
	t.Run("slow handler", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
			<-release
			w.Write([]byte("late"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("status = %d, want 504", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "request timeout") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})
}

func TestMetricsLabels(t *testing.T) {
	m := metrics.New()
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	for _, p := range []string{"/search", "/search", "/wp-admin", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			var path, status string
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "path":
					path = l.GetValue()
				case "status":
					status = l.GetValue()
				}
			}
			counts[path+" "+status] = metric.GetCounter().GetValue()
		}
	}
	if counts["/search 200"] != 2 || counts["other 404"] != 2 || len(counts) != 2 {
		t.Errorf("http_requests_total = %v", counts)
	}
}
