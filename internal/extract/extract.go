// Package extract turns the two build input streams into DocumentIds and
// normalised terms. Each document encoding is a separate Extractor selected
// by configuration.
package extract

import (
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Encoding selects how the document-terms and documents streams are framed.
type Encoding int

const (
	// EncodingText is one record per line; terms are whitespace separated.
	EncodingText Encoding = iota
	// EncodingNul is the binary form: NUL-terminated terms, an empty term
	// ends a document's term list, NUL-terminated documents.
	EncodingNul
	// EncodingJSON is EncodingText framing where every document is a JSON value.
	EncodingJSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingText:
		return "text"
	case EncodingNul:
		return "nul"
	case EncodingJSON:
		return "json"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a configuration value to an Encoding. Unknown values are
// a configuration error, never a fallback.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "text":
		return EncodingText, nil
	case "nul":
		return EncodingNul, nil
	case "json":
		return EncodingJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEncoding, s)
	}
}

// MaxDocuments bounds the DocumentId space to what a 32-bit bitmap can hold.
const MaxDocuments = 1<<32 - 1

// Pair associates a term with the document it was extracted from.
type Pair struct {
	DocID uint32
	Term  string
}

// Corpus is the fully read build input. Pairs are ordered by DocID and, within
// a document, by first appearance; a term appears at most once per document.
type Corpus struct {
	Pairs     []Pair
	Documents [][]byte
	// TermRule is RuleWords when the terms were derived from the documents.
	TermRule TermRule
}

// DocumentCount returns the number of documents, which is also one past the
// largest DocID.
func (c *Corpus) DocumentCount() int {
	return len(c.Documents)
}

// Extractor reads both streams to completion. A nil terms reader derives the
// terms from the documents themselves.
type Extractor interface {
	Extract(terms io.Reader, documents io.Reader) (*Corpus, error)
}

// New returns the Extractor for the given encoding.
func New(enc Encoding) (Extractor, error) {
	switch enc {
	case EncodingText:
		return &lineExtractor{}, nil
	case EncodingJSON:
		return &lineExtractor{validateJSON: true}, nil
	case EncodingNul:
		return &nulExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedEncoding, enc)
	}
}

// assemble pairs per-document term lists with their documents, assigning
// DocIDs by input order and dropping repeated terms within a document.
func assemble(termLists [][]string, documents [][]byte) (*Corpus, error) {
	rule := RuleFields
	if termLists == nil {
		rule = RuleWords
		termLists = make([][]string, len(documents))
		for i, doc := range documents {
			termLists[i] = Terms(string(doc))
		}
	}
	if len(termLists) != len(documents) {
		return nil, fmt.Errorf("%w: %d document term records but %d documents",
			apperrors.ErrInvalidInput, len(termLists), len(documents))
	}
	if uint64(len(documents)) > MaxDocuments {
		return nil, fmt.Errorf("%w: %d documents exceeds limit of %d",
			apperrors.ErrCapacity, len(documents), uint64(MaxDocuments))
	}
	corpus := &Corpus{Documents: documents, TermRule: rule}
	for i, terms := range termLists {
		seen := make(map[string]struct{}, len(terms))
		for _, term := range terms {
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			corpus.Pairs = append(corpus.Pairs, Pair{DocID: uint32(i), Term: term})
		}
	}
	return corpus, nil
}
