package host

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/deploy"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/resilience"
)

var errConnRefused = errors.New("dial tcp: connection refused")

func TestGuardOpensOnStoreFailures(t *testing.T) {
	store := &kvStore{data: make(map[string][]byte)}
	deployFixture(t, store, buildArtifact(t, "text", catTerms, catDocs, "[1]"))
	breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		IsFailure:        StoreFailure(isMissing),
	})
	s := newServer(t, extract.EncodingText, KVLoader(Guard(store, breaker), isMissing, deploy.Target{Prefix: "edgesearch", Name: "docs"}))
	s.Checker().Register("redis_breaker", BreakerCheck(breaker))
	h := s.Routes()

	if code, _ := search(t, h, "cat"); code != http.StatusOK {
		t.Fatalf("healthy store status = %d", code)
	}

	store.down = errConnRefused
	for i := 0; i < 2; i++ {
		if code, _ := search(t, h, "dog"); code != http.StatusInternalServerError {
			t.Errorf("failing store status = %d, want 500", code)
		}
	}
	if breaker.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", breaker.State())
	}

	reads := store.reads
	code, resp := search(t, h, "nap")
	if code != http.StatusServiceUnavailable {
		t.Errorf("open breaker status = %d, want 503 (%s)", code, resp.Error)
	}
	if store.reads != reads {
		t.Error("open breaker still read from the store")
	}
	if report := s.Checker().Run(context.Background()); report.Status != health.StatusDown {
		t.Errorf("health = %s, want down", report.Status)
	}
}

func TestGuardIgnoresMissingKeys(t *testing.T) {
	store := &kvStore{data: make(map[string][]byte)}
	breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        StoreFailure(isMissing),
	})
	g := Guard(store, breaker)
	for i := 0; i < 3; i++ {
		if _, err := g.GetBytes(context.Background(), "edgesearch:docs:directory"); !isMissing(err) {
			t.Fatalf("GetBytes() error = %v, want the missing-key error", err)
		}
	}
	if breaker.State() != resilience.StateClosed {
		t.Errorf("breaker state = %s, missing keys must not open it", breaker.State())
	}
}

func TestLoadWithRetry(t *testing.T) {
	target := deploy.Target{Prefix: "edgesearch", Name: "docs"}

	t.Run("store recovers", func(t *testing.T) {
		store := &kvStore{data: make(map[string][]byte), down: errConnRefused}
		deployFixture(t, &kvStore{data: store.data}, buildArtifact(t, "text", catTerms, catDocs, "[1]"))
		attempts := 0
		loader := KVLoader(store, isMissing, target)
		s := New(Options{Server: config.Default().Server}, func(ctx context.Context) (*Snapshot, error) {
			attempts++
			if attempts == 2 {
				store.down = nil
			}
			return loader(ctx)
		})
		if err := s.LoadWithRetry(context.Background(), 3); err != nil {
			t.Fatalf("LoadWithRetry() error: %v", err)
		}
		if attempts != 2 || s.Handler().Snapshot() == nil {
			t.Errorf("attempts = %d, want 2 with a snapshot loaded", attempts)
		}
	})
	t.Run("corrupt directory is not retried", func(t *testing.T) {
		store := &kvStore{data: map[string][]byte{
			target.Key("directory"): []byte("garbage"),
			target.Key("default"):   []byte("[]"),
		}}
		s := New(Options{Server: config.Default().Server}, KVLoader(store, isMissing, target))
		if err := s.LoadWithRetry(context.Background(), 3); err == nil {
			t.Fatal("LoadWithRetry() succeeded on a corrupt directory")
		}
		if store.reads != 1 {
			t.Errorf("store reads = %d, want 1", store.reads)
		}
	})
}
