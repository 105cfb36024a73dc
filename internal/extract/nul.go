package extract

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// nulExtractor reads the NUL-delimited binary form. Errors report byte
// offsets since the streams have no lines.
type nulExtractor struct{}

func (x *nulExtractor) Extract(terms io.Reader, documents io.Reader) (*Corpus, error) {
	docs, err := readNulRecords(documents)
	if err != nil {
		return nil, err
	}
	var termLists [][]string
	if terms != nil {
		termLists, err = readNulTermLists(terms)
		if err != nil {
			return nil, err
		}
	}
	return assemble(termLists, docs)
}

func readNulRecords(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var records [][]byte
	var offset int64
	for {
		rec, err := br.ReadBytes(0)
		if errors.Is(err, io.EOF) {
			if len(rec) > 0 {
				return nil, fmt.Errorf("%w: documents offset %d: unterminated record",
					apperrors.ErrInvalidInput, offset)
			}
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading documents at offset %d: %w", offset, err)
		}
		offset += int64(len(rec))
		records = append(records, rec[:len(rec)-1])
	}
}

// readNulTermLists groups NUL-terminated terms into per-document lists; an
// empty term closes the current document.
func readNulTermLists(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	var lists [][]string
	var current []string
	open := false
	var offset, recordStart int64
	for {
		term, err := br.ReadBytes(0)
		if errors.Is(err, io.EOF) {
			if len(term) > 0 || open {
				return nil, fmt.Errorf("%w: document terms offset %d: unterminated record",
					apperrors.ErrInvalidInput, recordStart)
			}
			return lists, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading document terms at offset %d: %w", offset, err)
		}
		if !open {
			recordStart = offset
			open = true
		}
		offset += int64(len(term))
		if len(term) == 1 {
			lists = append(lists, current)
			current = nil
			open = false
			continue
		}
		if t := Normalize(string(term[:len(term)-1])); t != "" {
			current = append(current, t)
		}
	}
}
