package query

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
)

// ChunkSource fetches encoded chunks by id. Implementations must be safe for
// concurrent use; the evaluator verifies every chunk it receives.
type ChunkSource interface {
	Chunk(ctx context.Context, id uint32) ([]byte, error)
}

// Index is the read-only view of an artifact the evaluator needs.
type Index struct {
	Directory *codec.Directory
	Postings  ChunkSource
}

// Result is the outcome of evaluating a Plan.
type Result struct {
	IDs []uint32
	// More is set when matches were cut at the result cap. Default results
	// always report more.
	More bool
	// Default is set when no query term matched anything and IDs are the
	// default results.
	Default bool
	// Total is the number of matching documents before truncation.
	Total uint64
}

// Search parses raw with the artifact's limits and evaluates it.
func Search(ctx context.Context, idx Index, raw string, defaults []uint32) (*Plan, *Result, error) {
	plan, err := Parse(raw, idx.Directory.Limits, idx.Directory.TermRule)
	if err != nil {
		return nil, nil, err
	}
	res, err := Evaluate(ctx, idx, plan, defaults)
	if err != nil {
		return plan, nil, err
	}
	return plan, res, nil
}

// Evaluate computes (AND of require terms) AND (OR of contain terms) minus
// (OR of exclude terms). Without require or contain terms the base set is
// every document. If no term resolves to a non-empty posting set, defaults
// is returned unchanged. Matches are returned in ascending DocumentId order,
// truncated to the artifact's result cap.
func Evaluate(ctx context.Context, idx Index, plan *Plan, defaults []uint32) (*Result, error) {
	dir := idx.Directory
	fetch := Fetcher(ctx, idx.Postings)

	var require, contain, exclude []*roaring.Bitmap
	resolved := false
	for _, t := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bm, err := resolve(dir, t.Text, fetch)
		if err != nil {
			return nil, err
		}
		if !bm.IsEmpty() {
			resolved = true
		}
		switch t.Mode {
		case ModeRequire:
			require = append(require, bm)
		case ModeContain:
			contain = append(contain, bm)
		case ModeExclude:
			exclude = append(exclude, bm)
		}
	}
	if !resolved {
		return &Result{IDs: defaults, More: true, Default: true, Total: uint64(len(defaults))}, nil
	}

	var matches *roaring.Bitmap
	switch {
	case len(require) > 0 && len(contain) > 0:
		matches = roaring.FastAnd(append(require, roaring.FastOr(contain...))...)
	case len(require) > 0:
		matches = roaring.FastAnd(require...)
	case len(contain) > 0:
		matches = roaring.FastOr(contain...)
	default:
		matches = roaring.New()
		matches.AddRange(0, uint64(dir.DocumentCount))
	}
	if len(exclude) > 0 {
		matches.AndNot(roaring.FastOr(exclude...))
	}
	return truncate(matches, dir.Limits.MaximumQueryResults), nil
}

func truncate(bm *roaring.Bitmap, limit uint32) *Result {
	total := bm.GetCardinality()
	n := min(total, uint64(limit))
	ids := make([]uint32, 0, n)
	it := bm.Iterator()
	for it.HasNext() && uint64(len(ids)) < n {
		ids = append(ids, it.Next())
	}
	return &Result{IDs: ids, More: total > uint64(limit), Total: total}
}

func resolve(dir *codec.Directory, term string, fetch func(uint32) ([]byte, error)) (*roaring.Bitmap, error) {
	locs, ok := dir.Lookup(term)
	if !ok {
		return roaring.New(), nil
	}
	payload, err := codec.Reassemble(term, locs, fetch)
	if err != nil {
		return nil, fmt.Errorf("resolving term %q: %w", term, err)
	}
	bm, err := codec.DecodePostingSet(payload, dir.DocumentCount)
	if err != nil {
		return nil, fmt.Errorf("resolving term %q: %w", term, err)
	}
	return bm, nil
}

// Fetcher returns a chunk accessor for one request. Each chunk is fetched and
// verified once and then remembered, so fragments and terms sharing a chunk
// cost a single fetch. The accessor is not safe for concurrent use.
func Fetcher(ctx context.Context, src ChunkSource) func(uint32) ([]byte, error) {
	seen := make(map[uint32][]byte)
	return func(id uint32) ([]byte, error) {
		if data, ok := seen[id]; ok {
			return data, nil
		}
		data, err := src.Chunk(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching chunk %d: %w", id, err)
		}
		if err := codec.VerifyChunk(data, id); err != nil {
			return nil, err
		}
		seen[id] = data
		return data, nil
	}
}

// MemorySource serves chunks that are already resident.
type MemorySource []codec.Chunk

func (m MemorySource) Chunk(_ context.Context, id uint32) ([]byte, error) {
	return codec.ChunkFunc(m)(id)
}
