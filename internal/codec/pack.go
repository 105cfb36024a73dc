package codec

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Record is a keyed payload to be packed.
type Record struct {
	Key     string
	Payload []byte
}

type fragmentRef struct {
	chunk int
	entry int
}

// Pack fills chunks greedily in record order. A record goes into the current
// chunk if the chunk stays within maxChunkBytes, otherwise the chunk is sealed
// and a new one opened. A record too large for an empty chunk is split into
// fragments, starting in whatever room the current chunk has left. The
// returned locations are indexed like records, one Location per fragment in
// sequence order.
func Pack(records []Record, maxChunkBytes int, firstID uint32) ([]Chunk, [][]Location, error) {
	if int64(maxChunkBytes) > math.MaxUint32 {
		return nil, nil, fmt.Errorf("%w: maximum chunk size %d exceeds 4 GiB", apperrors.ErrCapacity, maxChunkBytes)
	}
	capacity := maxChunkBytes - ChunkHeaderSize - FooterSize

	var pending [][]Fragment
	var current []Fragment
	used := 0
	seal := func() {
		if len(current) > 0 {
			pending = append(pending, current)
		}
		current = nil
		used = 0
	}
	refs := make([][]fragmentRef, len(records))

	for i, rec := range records {
		if len(rec.Key) > math.MaxUint16 {
			return nil, nil, fmt.Errorf("%w: key %.32q... is %d bytes", apperrors.ErrCapacity, rec.Key, len(rec.Key))
		}
		overhead := EntryHeaderSize + len(rec.Key)
		if overhead+1 > capacity {
			return nil, nil, fmt.Errorf("%w: key %.32q needs chunks of at least %d bytes, maximum is %d",
				apperrors.ErrCapacity, rec.Key, MinChunkBytes(len(rec.Key)), maxChunkBytes)
		}
		need := overhead + len(rec.Payload)
		if need <= capacity {
			if need > capacity-used {
				seal()
			}
			refs[i] = []fragmentRef{{len(pending), len(current)}}
			current = append(current, Fragment{Key: rec.Key, Sequence: 0, Total: 1, Payload: rec.Payload})
			used += need
			continue
		}

		rest := rec.Payload
		for len(rest) > 0 {
			room := capacity - used - overhead
			if room <= 0 {
				seal()
				continue
			}
			n := min(room, len(rest))
			refs[i] = append(refs[i], fragmentRef{len(pending), len(current)})
			current = append(current, Fragment{
				Key:      rec.Key,
				Sequence: uint32(len(refs[i]) - 1),
				Payload:  rest[:n],
			})
			used += overhead + n
			rest = rest[n:]
		}
		total := uint32(len(refs[i]))
		for _, ref := range refs[i] {
			if ref.chunk == len(pending) {
				current[ref.entry].Total = total
			} else {
				pending[ref.chunk][ref.entry].Total = total
			}
		}
	}
	seal()

	if uint64(firstID)+uint64(len(pending)) > math.MaxUint32 {
		return nil, nil, fmt.Errorf("%w: %d chunks exceed the chunk id space", apperrors.ErrCapacity, len(pending))
	}
	chunks := make([]Chunk, len(pending))
	offsets := make([][]uint32, len(pending))
	for c, fragments := range pending {
		id := firstID + uint32(c)
		data, offs := encodeChunk(id, fragments)
		if len(data) > maxChunkBytes {
			return nil, nil, fmt.Errorf("%w: chunk %d encoded to %d bytes, maximum is %d",
				apperrors.ErrInternal, id, len(data), maxChunkBytes)
		}
		chunks[c] = Chunk{ID: id, Data: data}
		offsets[c] = offs
	}

	locations := make([][]Location, len(records))
	for i, recRefs := range refs {
		locs := make([]Location, len(recRefs))
		for j, ref := range recRefs {
			frag := pending[ref.chunk][ref.entry]
			locs[j] = Location{
				ChunkID: firstID + uint32(ref.chunk),
				Offset:  offsets[ref.chunk][ref.entry],
				Length:  uint32(len(frag.Payload)),
			}
		}
		locations[i] = locs
	}
	return chunks, locations, nil
}
