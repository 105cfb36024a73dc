// Package host serves an artifact over HTTP exactly as the deployed edge
// evaluator would, so an artifact can be tried before it is deployed.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/metrics"
)

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results []any `json:"results"`
	More    bool  `json:"more"`
}

// ArtifactInfo describes the artifact currently served.
type ArtifactInfo struct {
	Source         string    `json:"source"`
	Digest         string    `json:"digest"`
	Documents      uint32    `json:"documents"`
	Terms          int       `json:"terms"`
	PostingsChunks uint32    `json:"postings_chunks"`
	DocumentChunks uint32    `json:"document_chunks"`
	MaxQueryBytes  uint32    `json:"maximum_query_bytes"`
	MaxResults     uint32    `json:"maximum_query_results"`
	MaxTerms       uint32    `json:"maximum_query_terms"`
	Defaults       int       `json:"default_results"`
	LoadedAt       time.Time `json:"loaded_at"`
}

// Handler serves queries against the current Snapshot, which can be swapped
// while requests are in flight.
type Handler struct {
	snapshot atomic.Pointer[Snapshot]
	encoding extract.Encoding
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler returns a Handler that renders documents according to encoding.
// m may be nil.
func NewHandler(encoding extract.Encoding, m *metrics.Metrics) *Handler {
	return &Handler{
		encoding: encoding,
		metrics:  m,
		logger:   logger.WithComponent("search-handler"),
	}
}

// Swap installs s for all subsequent requests and returns the previous
// snapshot. Requests already running keep the snapshot they started with.
func (h *Handler) Swap(s *Snapshot) *Snapshot {
	old := h.snapshot.Swap(s)
	if h.metrics != nil && s != nil {
		dir := s.Index.Directory
		h.metrics.ArtifactChunks.WithLabelValues("postings").Set(float64(dir.PostingsChunks))
		h.metrics.ArtifactChunks.WithLabelValues("documents").Set(float64(dir.DocumentChunks))
		h.metrics.ArtifactDocuments.Set(float64(dir.DocumentCount))
	}
	return old
}

// Snapshot returns the snapshot being served, or nil before the first load.
func (h *Handler) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

// Search answers GET /search?q=... with the matching documents. A missing or
// empty q returns the default results.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	snap := h.snapshot.Load()
	if snap == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no artifact loaded")
		return
	}

	raw := r.URL.Query().Get("q")
	plan, res, err := query.Search(ctx, snap.Index, raw, snap.Defaults)
	if err != nil {
		h.fail(w, log, raw, err)
		return
	}
	docs, err := snap.Resolve(ctx, res.IDs)
	if err != nil {
		h.fail(w, log, raw, err)
		return
	}
	results, err := h.render(docs, res.IDs)
	if err != nil {
		h.fail(w, log, raw, err)
		return
	}

	latency := time.Since(start)
	resultType := metrics.ResultMatch
	switch {
	case res.Default:
		resultType = metrics.ResultDefault
	case len(res.IDs) == 0:
		resultType = metrics.ResultEmpty
	}
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
		h.metrics.SearchLatency.WithLabelValues(snap.Source).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(results)))
		h.metrics.QueryTermsCount.Observe(float64(len(plan.Terms)))
	}
	log.Info("search completed",
		"query", raw,
		"require", plan.Count(query.ModeRequire),
		"contain", plan.Count(query.ModeContain),
		"exclude", plan.Count(query.ModeExclude),
		"dropped_terms", plan.Dropped,
		"result_type", resultType,
		"total_hits", res.Total,
		"returned", len(results),
		"more", res.More,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, SearchResponse{Results: results, More: res.More})
}

// Artifact answers GET /api/v1/artifact with a description of the artifact
// being served.
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot.Load()
	if snap == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no artifact loaded")
		return
	}
	dir := snap.Index.Directory
	h.writeJSON(w, http.StatusOK, ArtifactInfo{
		Source:         snap.Source,
		Digest:         snap.Digest,
		Documents:      dir.DocumentCount,
		Terms:          len(dir.Terms),
		PostingsChunks: dir.PostingsChunks,
		DocumentChunks: dir.DocumentChunks,
		MaxQueryBytes:  dir.Limits.MaximumQueryBytes,
		MaxResults:     dir.Limits.MaximumQueryResults,
		MaxTerms:       dir.Limits.MaximumQueryTerms,
		Defaults:       len(snap.Defaults),
		LoadedAt:       snap.LoadedAt,
	})
}

// render turns document payloads into response values: JSON documents are
// embedded as-is, everything else as a string.
func (h *Handler) render(docs [][]byte, ids []uint32) ([]any, error) {
	results := make([]any, len(docs))
	for i, doc := range docs {
		if h.encoding == extract.EncodingJSON {
			if !json.Valid(doc) {
				return nil, fmt.Errorf("%w: document %d is not valid JSON", apperrors.ErrFormat, ids[i])
			}
			results[i] = json.RawMessage(doc)
			continue
		}
		results[i] = string(doc)
	}
	return results, nil
}

func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, raw string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = http.StatusGatewayTimeout
	}
	resultType := metrics.ResultError
	if status < http.StatusInternalServerError {
		resultType = metrics.ResultRejected
	}
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
	if resultType == metrics.ResultRejected {
		log.Warn("search rejected", "query_bytes", len(raw), "status", status, "error", err)
		h.writeError(w, status, err.Error())
		return
	}
	log.Error("search failed", "query", raw, "status", status, "error", err)
	h.writeError(w, status, "search failed")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
