// Package tracing times nested phases of a long-running operation. Spans are
// carried in a context, form a parent-child tree and are written to slog
// when the root span ends.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed phase.
type Span struct {
	Name     string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any
}

// Start begins a span named name. If ctx already carries a span the new one
// becomes its child.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// FromContext returns the span carried by ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// End fixes the span's duration. Calling End again has no effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Duration == 0 {
		s.Duration = time.Since(s.Start)
	}
}

// SetAttr attaches a key-value pair that is logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Children returns the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Phases returns the duration of each direct child, keyed by name.
func (s *Span) Phases() map[string]time.Duration {
	phases := make(map[string]time.Duration)
	for _, c := range s.Children() {
		c.mu.Lock()
		phases[c.Name] += c.Duration
		c.mu.Unlock()
	}
	return phases
}

// Log writes the span tree to logger at debug level, one record per span.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	s.log(ctx, logger, s.Name, 0)
}

func (s *Span) log(ctx context.Context, logger *slog.Logger, path string, depth int) {
	s.mu.Lock()
	attrs := append([]any{"span", path, "depth", depth, "duration", s.Duration}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	logger.DebugContext(ctx, "span", attrs...)
	for _, c := range children {
		c.log(ctx, logger, path+"/"+c.Name, depth+1)
	}
}
