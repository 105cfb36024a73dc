// Package postings accumulates, per distinct term, the compressed set of
// DocumentIds containing it. Sets are roaring bitmaps, which switch between
// array, bitmap and run containers so both rare and near-universal terms stay
// compact.
package postings

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// MaxTermBytes is the longest term the chunk format can key.
const MaxTermBytes = math.MaxUint16

// TermEntry is one term and its posting set, the unit handed to the codec.
type TermEntry struct {
	Term     string
	Postings *roaring.Bitmap
}

// Builder owns the term to posting-set mapping for one partition of the
// input. It is not safe for concurrent use; parallel builds use one Builder
// per goroutine and Merge them.
type Builder struct {
	postings      map[string]*roaring.Bitmap
	documentCount uint32
}

// NewBuilder returns an empty Builder for document ids below documentCount.
func NewBuilder(documentCount uint32) *Builder {
	return &Builder{
		postings:      make(map[string]*roaring.Bitmap),
		documentCount: documentCount,
	}
}

// Add records that docID contains term. Adding the same membership twice is a
// no-op.
func (b *Builder) Add(docID uint32, term string) error {
	if docID >= b.documentCount {
		return fmt.Errorf("%w: document %d out of range for %d documents",
			apperrors.ErrInvalidInput, docID, b.documentCount)
	}
	if term == "" {
		return fmt.Errorf("%w: empty term for document %d", apperrors.ErrInvalidInput, docID)
	}
	if len(term) > MaxTermBytes {
		return fmt.Errorf("%w: term %.32q... is %d bytes, limit is %d",
			apperrors.ErrCapacity, term, len(term), MaxTermBytes)
	}
	bm, ok := b.postings[term]
	if !ok {
		bm = roaring.New()
		b.postings[term] = bm
	}
	bm.Add(docID)
	return nil
}

// Merge folds other into b. Set union makes the result independent of merge
// order.
func (b *Builder) Merge(other *Builder) {
	for term, bm := range other.postings {
		if existing, ok := b.postings[term]; ok {
			existing.Or(bm)
			continue
		}
		b.postings[term] = bm
	}
}

// TermCount returns the number of distinct terms seen so far.
func (b *Builder) TermCount() int {
	return len(b.postings)
}

// DocumentCount returns the fixed document count the builder validates against.
func (b *Builder) DocumentCount() uint32 {
	return b.documentCount
}

// Entries returns every term with its run-optimised posting set, sorted by
// term bytes.
func (b *Builder) Entries() []TermEntry {
	entries := make([]TermEntry, 0, len(b.postings))
	for term, bm := range b.postings {
		bm.RunOptimize()
		entries = append(entries, TermEntry{Term: term, Postings: bm})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Build groups pairs by term using up to workers partial builders, merged by
// sorted term. The output depends only on pair membership, not on input order
// or goroutine scheduling.
func Build(ctx context.Context, pairs []extract.Pair, documentCount int, workers int) ([]TermEntry, error) {
	if documentCount < 0 || uint64(documentCount) > extract.MaxDocuments {
		return nil, fmt.Errorf("%w: document count %d", apperrors.ErrCapacity, documentCount)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(pairs) {
		workers = len(pairs)
	}
	if workers == 0 {
		return nil, nil
	}
	partials := make([]*Builder, workers)
	size := (len(pairs) + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := min(w*size, len(pairs))
		hi := min(lo+size, len(pairs))
		partial := NewBuilder(uint32(documentCount))
		partials[w] = partial
		g.Go(func() error {
			for i, p := range pairs[lo:hi] {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if err := partial.Add(p.DocID, p.Term); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := partials[0]
	for _, partial := range partials[1:] {
		merged.Merge(partial)
	}
	return merged.Entries(), nil
}
