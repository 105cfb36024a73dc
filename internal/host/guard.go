package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/resilience"
)

type guardedGetter struct {
	client  query.BlobGetter
	breaker *resilience.CircuitBreaker
}

// Guard routes every read of client through breaker, so queries fail fast
// with a 503 while the store is unreachable instead of each waiting out its
// own timeout.
func Guard(client query.BlobGetter, breaker *resilience.CircuitBreaker) query.BlobGetter {
	return &guardedGetter{client: client, breaker: breaker}
}

func (g *guardedGetter) GetBytes(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := g.breaker.Execute(func() error {
		var err error
		data, err = g.client.GetBytes(ctx, key)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusServiceUnavailable, "key-value store unavailable: %v", err)
	}
	return data, err
}

// StoreFailure reports whether err from the key-value store says something
// about the store's health. Missing keys and cancelled requests do not.
func StoreFailure(isMissing func(error) bool) func(error) bool {
	return func(err error) bool {
		if isMissing != nil && isMissing(err) {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
}

// BreakerCheck reports an open breaker as down and a probing one as degraded.
func BreakerCheck(breaker *resilience.CircuitBreaker) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		switch state := breaker.State(); state {
		case resilience.StateOpen:
			return health.ComponentHealth{Status: health.StatusDown, Message: "circuit " + state.String()}
		case resilience.StateHalfOpen:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + state.String()}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "circuit " + state.String()}
		}
	}
}

// permanentLoadError reports load failures that another attempt cannot fix.
func permanentLoadError(err error) bool {
	return errors.Is(err, apperrors.ErrFormat) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrUnsupportedEncoding)
}

// LoadWithRetry performs the first load, retrying up to attempts times with
// backoff while the artifact source is unavailable. A malformed artifact
// fails immediately.
func (s *Server) LoadWithRetry(ctx context.Context, attempts int) error {
	err := resilience.Retry(ctx, "artifact load", resilience.RetryConfig{
		MaxAttempts: attempts,
		Retryable:   func(err error) bool { return !permanentLoadError(err) },
	}, s.Load)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	return nil
}
