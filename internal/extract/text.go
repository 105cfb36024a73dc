package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// lineExtractor handles the line-oriented encodings.
type lineExtractor struct {
	validateJSON bool
}

func (x *lineExtractor) Extract(terms io.Reader, documents io.Reader) (*Corpus, error) {
	docs, err := readLines(documents, "documents")
	if err != nil {
		return nil, err
	}
	if x.validateJSON {
		for i, doc := range docs {
			if !json.Valid(doc) {
				return nil, fmt.Errorf("%w: documents line %d: not a valid JSON value",
					apperrors.ErrInvalidInput, i+1)
			}
		}
	}
	var termLists [][]string
	if terms != nil {
		lines, err := readLines(terms, "document terms")
		if err != nil {
			return nil, err
		}
		termLists = make([][]string, len(lines))
		for i, line := range lines {
			termLists[i] = Fields(string(line))
		}
	}
	return assemble(termLists, docs)
}

// readLines reads newline-terminated records. A final record without a
// terminating newline is rejected with its line number.
func readLines(r io.Reader, stream string) ([][]byte, error) {
	br := bufio.NewReader(r)
	var lines [][]byte
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return nil, fmt.Errorf("%w: %s line %d: unterminated record",
					apperrors.ErrInvalidInput, stream, lineNo)
			}
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", stream, lineNo, err)
		}
		line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
		lines = append(lines, line)
	}
}
