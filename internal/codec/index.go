package codec

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/postings"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Index is a fully encoded artifact body: the Directory plus the postings and
// document chunks it points into. Chunk ids are the slice indexes.
type Index struct {
	Directory *Directory
	Postings  []Chunk
	Documents []Chunk
}

// EncodeOptions controls chunk sizing and parallelism.
type EncodeOptions struct {
	Limits        Limits
	TermRule      extract.TermRule
	MaxChunkBytes int
	Workers       int
}

// Encode serialises sorted term entries and document payloads. Posting sets
// are serialised in parallel into index-addressed slots, so the output bytes
// do not depend on scheduling.
func Encode(ctx context.Context, entries []postings.TermEntry, documents [][]byte, opts EncodeOptions) (*Index, error) {
	if opts.MaxChunkBytes < MinChunkBytes(0) {
		return nil, fmt.Errorf("%w: maximum chunk size %d is below the minimum of %d",
			apperrors.ErrCapacity, opts.MaxChunkBytes, MinChunkBytes(0))
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i-1].Term >= entries[i].Term {
			return nil, fmt.Errorf("%w: term entries not strictly sorted at %q", apperrors.ErrInternal, entries[i].Term)
		}
	}

	termRecords := make([]Record, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payload, err := e.Postings.ToBytes()
			if err != nil {
				return fmt.Errorf("serialising postings for term %q: %w", e.Term, err)
			}
			termRecords[i] = Record{Key: e.Term, Payload: payload}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	postingChunks, termLocs, err := Pack(termRecords, opts.MaxChunkBytes, 0)
	if err != nil {
		return nil, fmt.Errorf("packing postings: %w", err)
	}
	docRecords := make([]Record, len(documents))
	for i, doc := range documents {
		docRecords[i] = Record{Key: strconv.Itoa(i), Payload: doc}
	}
	documentChunks, docLocs, err := Pack(docRecords, opts.MaxChunkBytes, 0)
	if err != nil {
		return nil, fmt.Errorf("packing documents: %w", err)
	}

	dir := &Directory{
		Limits:         opts.Limits,
		TermRule:       opts.TermRule,
		DocumentCount:  uint32(len(documents)),
		MaxChunkBytes:  uint32(opts.MaxChunkBytes),
		PostingsChunks: uint32(len(postingChunks)),
		DocumentChunks: uint32(len(documentChunks)),
		Terms:          make([]TermLocation, len(entries)),
		Documents:      docLocs,
	}
	for i, e := range entries {
		dir.Terms[i] = TermLocation{Term: e.Term, Fragments: termLocs[i]}
	}
	return &Index{Directory: dir, Postings: postingChunks, Documents: documentChunks}, nil
}

// DecodePostingSet decodes a reassembled posting payload and checks that it
// only references existing documents.
func DecodePostingSet(payload []byte, documentCount uint32) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: decoding posting set: %v", apperrors.ErrFormat, err)
	}
	if !bm.IsEmpty() && bm.Maximum() >= documentCount {
		return nil, fmt.Errorf("%w: posting set references document %d of %d",
			apperrors.ErrFormat, bm.Maximum(), documentCount)
	}
	return bm, nil
}

// ChunkFunc returns a chunk accessor over in-memory chunks.
func ChunkFunc(chunks []Chunk) func(id uint32) ([]byte, error) {
	return func(id uint32) ([]byte, error) {
		if uint64(id) >= uint64(len(chunks)) {
			return nil, fmt.Errorf("%w: chunk %d of %d", apperrors.ErrFormat, id, len(chunks))
		}
		return chunks[id].Data, nil
	}
}

// DecodeTerms reassembles and decodes every posting set in the index. It is
// the inverse of Encode's posting half and is used to validate artifacts.
func DecodeTerms(idx *Index) (map[string]*roaring.Bitmap, error) {
	fetch := ChunkFunc(idx.Postings)
	out := make(map[string]*roaring.Bitmap, len(idx.Directory.Terms))
	for _, t := range idx.Directory.Terms {
		payload, err := Reassemble(t.Term, t.Fragments, fetch)
		if err != nil {
			return nil, err
		}
		bm, err := DecodePostingSet(payload, idx.Directory.DocumentCount)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", t.Term, err)
		}
		out[t.Term] = bm
	}
	return out, nil
}

// DecodeDocument reassembles one document payload.
func DecodeDocument(idx *Index, id uint32) ([]byte, error) {
	locs, ok := idx.Directory.Document(id)
	if !ok {
		return nil, fmt.Errorf("%w: document %d", apperrors.ErrNotFound, id)
	}
	return Reassemble(strconv.FormatUint(uint64(id), 10), locs, ChunkFunc(idx.Documents))
}
