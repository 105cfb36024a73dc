package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// reader walks a little-endian buffer. The first out-of-bounds read latches
// an ErrFormat error and every later read returns zero values.
type reader struct {
	buf  []byte
	off  int
	what string
	err  error
}

func newReader(buf []byte, what string) *reader {
	return &reader{buf: buf, what: what}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: %s truncated at offset %d (need %d bytes, have %d)",
			apperrors.ErrFormat, r.what, r.off, n, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return v
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// sealed appends the CRC32 footer over everything written so far.
func sealed(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// checkSealed verifies the CRC32 footer and returns the body without it.
func checkSealed(data []byte, what string) ([]byte, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, too short for footer", apperrors.ErrFormat, what, len(data))
	}
	body := data[:len(data)-FooterSize]
	want := binary.LittleEndian.Uint32(data[len(data)-FooterSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: %s checksum mismatch (stored %08x, computed %08x)",
			apperrors.ErrFormat, what, want, got)
	}
	return body, nil
}

func checkHeader(r *reader, magic uint32) error {
	gotMagic := r.u32()
	version := r.u32()
	if r.err != nil {
		return r.err
	}
	if gotMagic != magic {
		return fmt.Errorf("%w: %s has bad magic bytes %08x", apperrors.ErrFormat, r.what, gotMagic)
	}
	if version != FormatVersion {
		return fmt.Errorf("%w: %s has format version %d, want %d",
			apperrors.ErrFormat, r.what, version, FormatVersion)
	}
	return nil
}
