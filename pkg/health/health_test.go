package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func status(s Status) Check {
	return func(context.Context) ComponentHealth { return ComponentHealth{Status: s} }
}

func TestRunAggregates(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   Status
		ready  bool
	}{
		{"no checks", nil, StatusUp, true},
		{"all up", map[string]Status{"a": StatusUp, "b": StatusUp}, StatusUp, true},
		{"degraded", map[string]Status{"a": StatusUp, "b": StatusDegraded}, StatusDegraded, true},
		{"down wins", map[string]Status{"a": StatusDown, "b": StatusDegraded, "c": StatusUp}, StatusDown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Second)
			for name, s := range tt.checks {
				c.Register(name, status(s))
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %s, want %s", report.Status, tt.want)
			}
			if report.Ready() != tt.ready {
				t.Errorf("Ready() = %v, want %v", report.Ready(), tt.ready)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("got %d components, want %d", len(report.Components), len(tt.checks))
			}
		})
	}
}

func TestRunBoundsSlowChecks(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return ComponentHealth{Status: StatusDown, Message: ctx.Err().Error()}
	})
	start := time.Now()
	report := c.Run(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by the checker timeout")
	}
	if report.Status != StatusDown {
		t.Errorf("Status = %s, want down", report.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("artifact", status(StatusDown))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Components["artifact"].Status != StatusDown {
		t.Errorf("artifact component = %+v", report.Components["artifact"])
	}

	c.Register("artifact", status(StatusUp))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after recovery = %d, want 200", rec.Code)
	}
}
