package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies the term equality rule shared by build and query time:
// Unicode NFKC followed by lower-casing.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Fields splits an explicit term list on whitespace and normalises each term.
func Fields(s string) []string {
	fields := strings.Fields(s)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := Normalize(f); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Terms derives terms from free text using UAX#29 word boundaries. Segments
// without a letter or digit (punctuation, spaces) are dropped.
func Terms(text string) []string {
	seg := words.FromString(Normalize(text))
	var terms []string
	for seg.Next() {
		w := seg.Value()
		if isWord(w) {
			terms = append(terms, w)
		}
	}
	return terms
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// TermRule says how an artifact's terms were cut from text. It is stored in
// the artifact so queries are split the same way the build split its input.
type TermRule uint32

const (
	// RuleFields: terms were listed explicitly and separated by whitespace.
	RuleFields TermRule = iota
	// RuleWords: terms were derived from the documents by UAX#29 word
	// segmentation.
	RuleWords
)

func (r TermRule) String() string {
	switch r {
	case RuleFields:
		return "fields"
	case RuleWords:
		return "words"
	default:
		return fmt.Sprintf("rule(%d)", uint32(r))
	}
}

// Valid reports whether r is a known rule.
func (r TermRule) Valid() bool {
	return r == RuleFields || r == RuleWords
}

// Split returns the terms of one whitespace-free query word under r. Under
// RuleWords punctuation is dropped and "e-mail" yields "e" and "mail", as it
// did when the documents were indexed.
func (r TermRule) Split(word string) []string {
	if r == RuleWords {
		return Terms(word)
	}
	if t := Normalize(word); t != "" {
		return []string{t}
	}
	return nil
}
