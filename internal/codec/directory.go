package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Limits are the query bounds fixed at build time and enforced by every
// evaluator that loads the artifact.
type Limits struct {
	MaximumQueryBytes   uint32
	MaximumQueryResults uint32
	MaximumQueryTerms   uint32
}

// TermLocation lists the fragments of one term's posting set.
type TermLocation struct {
	Term      string
	Fragments []Location
}

// Directory resolves terms and DocumentIds to chunk locations. Terms are
// sorted by byte order so lookups are a binary search.
type Directory struct {
	Limits Limits
	// TermRule is how queries must be split into terms.
	TermRule       extract.TermRule
	DocumentCount  uint32
	MaxChunkBytes  uint32
	PostingsChunks uint32
	DocumentChunks uint32
	Terms          []TermLocation
	// Documents is indexed by DocumentId.
	Documents [][]Location
}

// Lookup returns the fragment locations of term.
func (d *Directory) Lookup(term string) ([]Location, bool) {
	i := sort.Search(len(d.Terms), func(i int) bool {
		return d.Terms[i].Term >= term
	})
	if i >= len(d.Terms) || d.Terms[i].Term != term {
		return nil, false
	}
	return d.Terms[i].Fragments, true
}

// Document returns the fragment locations of a document payload.
func (d *Directory) Document(id uint32) ([]Location, bool) {
	if uint64(id) >= uint64(len(d.Documents)) {
		return nil, false
	}
	return d.Documents[id], true
}

// MarshalBinary encodes the Directory. The layout is:
//
//	magic u32 | version u32
//	max query bytes u32 | max query results u32 | max query terms u32
//	term rule u32
//	document count u32 | max chunk bytes u32 | postings chunks u32 | document chunks u32
//	term count u32 | per term: len u16 | term | fragments
//	per document: fragments
//	crc32 u32
//
// where fragments is count u32 followed by (chunk id, offset, length) u32 triples.
func (d *Directory) MarshalBinary() ([]byte, error) {
	if uint64(len(d.Documents)) != uint64(d.DocumentCount) {
		return nil, fmt.Errorf("%w: %d document locations for %d documents",
			apperrors.ErrInternal, len(d.Documents), d.DocumentCount)
	}
	le := binary.LittleEndian
	buf := make([]byte, 0, 64+len(d.Terms)*24+len(d.Documents)*16)
	buf = le.AppendUint32(buf, DirectoryMagic)
	buf = le.AppendUint32(buf, FormatVersion)
	buf = le.AppendUint32(buf, d.Limits.MaximumQueryBytes)
	buf = le.AppendUint32(buf, d.Limits.MaximumQueryResults)
	buf = le.AppendUint32(buf, d.Limits.MaximumQueryTerms)
	buf = le.AppendUint32(buf, uint32(d.TermRule))
	buf = le.AppendUint32(buf, d.DocumentCount)
	buf = le.AppendUint32(buf, d.MaxChunkBytes)
	buf = le.AppendUint32(buf, d.PostingsChunks)
	buf = le.AppendUint32(buf, d.DocumentChunks)
	buf = le.AppendUint32(buf, uint32(len(d.Terms)))
	for i, t := range d.Terms {
		if i > 0 && d.Terms[i-1].Term >= t.Term {
			return nil, fmt.Errorf("%w: directory terms not strictly sorted at %q",
				apperrors.ErrInternal, t.Term)
		}
		buf = le.AppendUint16(buf, uint16(len(t.Term)))
		buf = append(buf, t.Term...)
		buf = appendLocations(buf, t.Fragments)
	}
	for _, locs := range d.Documents {
		buf = appendLocations(buf, locs)
	}
	return sealed(buf), nil
}

func appendLocations(buf []byte, locs []Location) []byte {
	le := binary.LittleEndian
	buf = le.AppendUint32(buf, uint32(len(locs)))
	for _, loc := range locs {
		buf = le.AppendUint32(buf, loc.ChunkID)
		buf = le.AppendUint32(buf, loc.Offset)
		buf = le.AppendUint32(buf, loc.Length)
	}
	return buf
}

// UnmarshalDirectory decodes and validates a Directory. It fails closed on any
// truncation, version mismatch, checksum mismatch, unsorted terms, or
// location that points outside the declared chunks.
func UnmarshalDirectory(data []byte) (*Directory, error) {
	body, err := checkSealed(data, "directory")
	if err != nil {
		return nil, err
	}
	r := newReader(body, "directory")
	if err := checkHeader(r, DirectoryMagic); err != nil {
		return nil, err
	}
	d := &Directory{
		Limits: Limits{
			MaximumQueryBytes:   r.u32(),
			MaximumQueryResults: r.u32(),
			MaximumQueryTerms:   r.u32(),
		},
		TermRule:       extract.TermRule(r.u32()),
		DocumentCount:  r.u32(),
		MaxChunkBytes:  r.u32(),
		PostingsChunks: r.u32(),
		DocumentChunks: r.u32(),
	}
	termCount := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if d.Limits.MaximumQueryBytes == 0 || d.Limits.MaximumQueryResults == 0 || d.Limits.MaximumQueryTerms == 0 {
		return nil, fmt.Errorf("%w: directory has zero query limits %+v", apperrors.ErrFormat, d.Limits)
	}
	if !d.TermRule.Valid() {
		return nil, fmt.Errorf("%w: unknown term rule %s", apperrors.ErrFormat, d.TermRule)
	}
	// Every term costs at least 6 bytes and every document 4, which bounds
	// allocations driven by corrupt counts.
	if uint64(termCount)*6+uint64(d.DocumentCount)*4 > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: directory claims %d terms and %d documents in %d bytes",
			apperrors.ErrFormat, termCount, d.DocumentCount, r.remaining())
	}
	d.Terms = make([]TermLocation, termCount)
	for i := range d.Terms {
		term := string(r.bytes(int(r.u16())))
		locs, err := readLocations(r, d.PostingsChunks, d.MaxChunkBytes)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", term, err)
		}
		if i > 0 && d.Terms[i-1].Term >= term {
			return nil, fmt.Errorf("%w: directory terms not strictly sorted at %q", apperrors.ErrFormat, term)
		}
		if len(locs) == 0 {
			return nil, fmt.Errorf("%w: term %q has no fragments", apperrors.ErrFormat, term)
		}
		d.Terms[i] = TermLocation{Term: term, Fragments: locs}
	}
	d.Documents = make([][]Location, d.DocumentCount)
	for i := range d.Documents {
		locs, err := readLocations(r, d.DocumentChunks, d.MaxChunkBytes)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		d.Documents[i] = locs
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: directory has %d trailing bytes", apperrors.ErrFormat, r.remaining())
	}
	return d, nil
}

func readLocations(r *reader, chunkCount, maxChunkBytes uint32) ([]Location, error) {
	n := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if uint64(n)*12 > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d fragments in %d bytes", apperrors.ErrFormat, n, r.remaining())
	}
	locs := make([]Location, n)
	for i := range locs {
		loc := Location{ChunkID: r.u32(), Offset: r.u32(), Length: r.u32()}
		if r.err != nil {
			return nil, r.err
		}
		if loc.ChunkID >= chunkCount {
			return nil, fmt.Errorf("%w: fragment in chunk %d of %d", apperrors.ErrFormat, loc.ChunkID, chunkCount)
		}
		if uint64(loc.Offset)+uint64(loc.Length)+FooterSize > uint64(maxChunkBytes) {
			return nil, fmt.Errorf("%w: fragment %+v exceeds chunk size %d", apperrors.ErrFormat, loc, maxChunkBytes)
		}
		locs[i] = loc
	}
	return locs, nil
}
