// Package codec serialises posting sets and documents into size-bounded
// chunks plus a Directory that locates every entry without scanning chunks.
//
// Chunk layout (little endian):
//
//	magic u32 | version u32 | chunk id u32 | entry count u32
//	entries: key len u16 | key | seq u32 | total u32 | payload len u32 | payload
//	crc32 u32 over all preceding bytes
//
// A payload too large for one chunk is split into fragments that share a key
// and carry their sequence index and total count.
package codec

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

const (
	ChunkMagic     uint32 = 0x4B435345 // "ESCK"
	DirectoryMagic uint32 = 0x52445345 // "ESDR"
	FormatVersion  uint32 = 2

	ChunkHeaderSize = 16
	FooterSize      = 4
	// EntryHeaderSize excludes the key bytes.
	EntryHeaderSize = 2 + 4 + 4 + 4
	// entryTrailerSize is the part of the entry header between key and payload.
	entryTrailerSize = 4 + 4 + 4
)

// Fragment is one decoded chunk entry.
type Fragment struct {
	Key      string
	Sequence uint32
	Total    uint32
	Payload  []byte
}

// Chunk is an encoded chunk ready to be written.
type Chunk struct {
	ID   uint32
	Data []byte
}

// Location addresses a payload inside a chunk.
type Location struct {
	ChunkID uint32
	Offset  uint32
	Length  uint32
}

// MinChunkBytes is the smallest chunk able to hold a fragment with a key of
// keyLen bytes and a single payload byte.
func MinChunkBytes(keyLen int) int {
	return ChunkHeaderSize + FooterSize + EntryHeaderSize + keyLen + 1
}

// encodeChunk writes the fragments of one chunk and returns the payload
// offset of each fragment.
func encodeChunk(id uint32, fragments []Fragment) ([]byte, []uint32) {
	size := ChunkHeaderSize + FooterSize
	for _, f := range fragments {
		size += EntryHeaderSize + len(f.Key) + len(f.Payload)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, ChunkMagic)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(fragments)))
	offsets := make([]uint32, len(fragments))
	for i, f := range fragments {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Key)))
		buf = append(buf, f.Key...)
		buf = binary.LittleEndian.AppendUint32(buf, f.Sequence)
		buf = binary.LittleEndian.AppendUint32(buf, f.Total)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Payload)))
		offsets[i] = uint32(len(buf))
		buf = append(buf, f.Payload...)
	}
	return sealed(buf), offsets
}

// VerifyChunk checks the header and checksum of a chunk without decoding its
// entries. It is the cheap check done on every chunk fetched at query time.
func VerifyChunk(data []byte, wantID uint32) error {
	what := fmt.Sprintf("chunk %d", wantID)
	body, err := checkSealed(data, what)
	if err != nil {
		return err
	}
	r := newReader(body, what)
	if err := checkHeader(r, ChunkMagic); err != nil {
		return err
	}
	id := r.u32()
	r.u32()
	if r.err != nil {
		return r.err
	}
	if id != wantID {
		return fmt.Errorf("%w: %s header carries id %d", apperrors.ErrFormat, what, id)
	}
	return nil
}

// DecodeChunk fully decodes a chunk. Any truncation, trailing garbage, version
// or checksum mismatch is an ErrFormat error; there is no partial result.
func DecodeChunk(data []byte) (uint32, []Fragment, error) {
	body, err := checkSealed(data, "chunk")
	if err != nil {
		return 0, nil, err
	}
	r := newReader(body, "chunk")
	if err := checkHeader(r, ChunkMagic); err != nil {
		return 0, nil, err
	}
	id := r.u32()
	count := r.u32()
	if r.err != nil {
		return 0, nil, r.err
	}
	r.what = fmt.Sprintf("chunk %d", id)
	if uint64(count)*EntryHeaderSize > uint64(r.remaining()) {
		return 0, nil, fmt.Errorf("%w: %s claims %d entries in %d bytes",
			apperrors.ErrFormat, r.what, count, r.remaining())
	}
	fragments := make([]Fragment, 0, count)
	for i := uint32(0); i < count; i++ {
		key := r.bytes(int(r.u16()))
		f := Fragment{
			Key:      string(key),
			Sequence: r.u32(),
			Total:    r.u32(),
		}
		f.Payload = r.bytes(int(r.u32()))
		if r.err != nil {
			return 0, nil, r.err
		}
		if f.Total == 0 || f.Sequence >= f.Total {
			return 0, nil, fmt.Errorf("%w: %s entry %d has fragment %d of %d",
				apperrors.ErrFormat, r.what, i, f.Sequence, f.Total)
		}
		fragments = append(fragments, f)
	}
	if r.remaining() != 0 {
		return 0, nil, fmt.Errorf("%w: %s has %d trailing bytes", apperrors.ErrFormat, r.what, r.remaining())
	}
	return id, fragments, nil
}

// Reassemble concatenates the fragments of key in sequence order. Each
// location is cross-checked against the entry header that precedes it, so a
// Directory that disagrees with its chunks fails closed.
func Reassemble(key string, locs []Location, chunk func(id uint32) ([]byte, error)) ([]byte, error) {
	if len(locs) == 1 {
		return fragmentAt(key, 0, 1, locs[0], chunk)
	}
	var total int
	for _, loc := range locs {
		total += int(loc.Length)
	}
	out := make([]byte, 0, total)
	for i, loc := range locs {
		part, err := fragmentAt(key, uint32(i), uint32(len(locs)), loc, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func fragmentAt(key string, seq, total uint32, loc Location, chunk func(id uint32) ([]byte, error)) ([]byte, error) {
	data, err := chunk(loc.ChunkID)
	if err != nil {
		return nil, err
	}
	start := int64(loc.Offset) - entryTrailerSize - int64(len(key)) - 2
	end := int64(loc.Offset) + int64(loc.Length)
	if start < ChunkHeaderSize || end > int64(len(data)-FooterSize) {
		return nil, fmt.Errorf("%w: location %+v for %q outside chunk of %d bytes",
			apperrors.ErrFormat, loc, key, len(data))
	}
	r := newReader(data[start:end], fmt.Sprintf("chunk %d", loc.ChunkID))
	keyLen := r.u16()
	gotKey := r.bytes(int(keyLen))
	gotSeq, gotTotal, gotLen := r.u32(), r.u32(), r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if string(gotKey) != key || gotSeq != seq || gotTotal != total || gotLen != loc.Length {
		return nil, fmt.Errorf("%w: chunk %d entry at %d is %q fragment %d/%d (%d bytes), want %q fragment %d/%d (%d bytes)",
			apperrors.ErrFormat, loc.ChunkID, loc.Offset, gotKey, gotSeq, gotTotal, gotLen, key, seq, total, loc.Length)
	}
	return r.bytes(int(loc.Length)), nil
}
