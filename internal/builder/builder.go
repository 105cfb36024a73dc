// Package builder runs the build pipeline: extract terms, build posting sets,
// encode chunks and write the artifact. All input is read and the whole index
// is encoded in memory before anything is written, so a failed build leaves
// the output directory untouched.
package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/tracing"
)

// Stats summarizes one build for logs and the build command's report.
type Stats struct {
	Documents      int
	Terms          int
	Pairs          int
	PostingsChunks int
	DocumentChunks int
	Duration       time.Duration
	// Phases holds the time spent in each pipeline phase.
	Phases map[string]time.Duration
}

// Builder turns a document stream and an optional term stream into an
// artifact. One Builder may run many builds.
type Builder struct {
	cfg       config.BuildConfig
	extractor extract.Extractor
	logger    *slog.Logger
}

// New validates cfg and returns a Builder for it.
func New(cfg config.BuildConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for name, v := range map[string]int{
		"maximum query bytes":   cfg.MaximumQueryBytes,
		"maximum query results": cfg.MaximumQueryResults,
		"maximum query terms":   cfg.MaximumQueryTerms,
	} {
		if int64(v) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s %d does not fit in 32 bits", apperrors.ErrInvalidInput, name, v)
		}
	}
	enc, err := extract.ParseEncoding(cfg.DocumentEncoding)
	if err != nil {
		return nil, err
	}
	extractor, err := extract.New(enc)
	if err != nil {
		return nil, err
	}
	return &Builder{
		cfg:       cfg,
		extractor: extractor,
		logger:    logger.WithComponent("builder"),
	}, nil
}

// Build reads both streams and encodes the index. A nil terms reader derives
// terms from the documents.
func (b *Builder) Build(ctx context.Context, terms, documents io.Reader) (*codec.Index, *Stats, error) {
	ctx, span := tracing.Start(ctx, "index")
	defer span.End()

	_, phase := tracing.Start(ctx, "extract")
	corpus, err := b.extractor.Extract(terms, documents)
	phase.End()
	if err != nil {
		return nil, nil, fmt.Errorf("extracting terms: %w", err)
	}
	b.logger.Info("input read",
		"encoding", b.cfg.DocumentEncoding,
		"documents", corpus.DocumentCount(),
		"pairs", len(corpus.Pairs),
	)

	pctx, phase := tracing.Start(ctx, "postings")
	entries, err := postings.Build(pctx, corpus.Pairs, corpus.DocumentCount(), b.cfg.Workers)
	phase.End()
	if err != nil {
		return nil, nil, fmt.Errorf("building posting sets: %w", err)
	}
	ectx, phase := tracing.Start(ctx, "encode")
	idx, err := codec.Encode(ectx, entries, corpus.Documents, codec.EncodeOptions{
		Limits: codec.Limits{
			MaximumQueryBytes:   uint32(b.cfg.MaximumQueryBytes),
			MaximumQueryResults: uint32(b.cfg.MaximumQueryResults),
			MaximumQueryTerms:   uint32(b.cfg.MaximumQueryTerms),
		},
		TermRule:      corpus.TermRule,
		MaxChunkBytes: b.cfg.MaximumChunkBytes,
		Workers:       b.cfg.Workers,
	})
	phase.End()
	if err != nil {
		return nil, nil, fmt.Errorf("encoding index: %w", err)
	}
	if limit := b.cfg.MaximumDirectoryBytes; limit > 0 {
		raw, err := idx.Directory.MarshalBinary()
		if err != nil {
			return nil, nil, fmt.Errorf("encoding directory: %w", err)
		}
		if len(raw) > limit {
			return nil, nil, fmt.Errorf("%w: directory is %d bytes, limit is %d",
				apperrors.ErrCapacity, len(raw), limit)
		}
	}
	phase.SetAttr("postings_chunks", len(idx.Postings))
	phase.SetAttr("document_chunks", len(idx.Documents))
	span.End()
	stats := &Stats{
		Documents:      corpus.DocumentCount(),
		Terms:          len(entries),
		Pairs:          len(corpus.Pairs),
		PostingsChunks: len(idx.Postings),
		DocumentChunks: len(idx.Documents),
		Duration:       span.Duration,
		Phases:         span.Phases(),
	}
	return idx, stats, nil
}

// Run opens the configured input files, builds the index and writes the
// artifact to the output directory.
func (b *Builder) Run(ctx context.Context) (*Stats, error) {
	ctx, span := tracing.Start(ctx, "build")
	defer span.End()

	documents, err := os.Open(b.cfg.DocumentsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening documents: %v", apperrors.ErrInvalidInput, err)
	}
	defer documents.Close()

	var terms io.Reader
	if b.cfg.DocumentTermsPath != "" {
		f, err := os.Open(b.cfg.DocumentTermsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: opening document terms: %v", apperrors.ErrInvalidInput, err)
		}
		defer f.Close()
		terms = f
	}

	idx, stats, err := b.Build(ctx, terms, documents)
	if err != nil {
		return nil, err
	}
	_, phase := tracing.Start(ctx, "write")
	err = artifact.Write(b.cfg.OutputDir, idx)
	phase.End()
	if err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	span.End()
	maps.Copy(stats.Phases, span.Phases())
	stats.Duration = span.Duration
	span.Log(ctx, b.logger)
	b.logger.Info("build complete",
		"output_dir", b.cfg.OutputDir,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"postings_chunks", stats.PostingsChunks,
		"document_chunks", stats.DocumentChunks,
		"duration", stats.Duration,
	)
	return stats, nil
}
