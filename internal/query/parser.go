// Package query plans and evaluates boolean term queries against a built
// artifact. Evaluation is a pure function of the artifact, the query and the
// default results; nothing it touches is mutated.
package query

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Mode is how a term combines with the rest of the query.
type Mode int

const (
	ModeRequire Mode = iota
	ModeContain
	ModeExclude
)

func (m Mode) String() string {
	switch m {
	case ModeRequire:
		return "require"
	case ModeContain:
		return "contain"
	case ModeExclude:
		return "exclude"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Term is one normalised query term and how it combines with the others.
type Term struct {
	Mode Mode
	Text string
}

// Plan is a parsed query: its kept terms in query order.
type Plan struct {
	Raw   string
	Terms []Term
	// Dropped counts distinct terms beyond the term cap.
	Dropped int
}

// Parse turns a raw query into a Plan. A query longer than the byte budget
// is rejected before any term is extracted. Words are split on whitespace; a
// leading '~' marks a contain term and a leading '-' an exclude term. The
// rest of each word is cut into terms by rule, the rule the artifact was
// built with, and every term inherits the word's mode. Only the first
// MaximumQueryTerms distinct terms in query order are kept.
func Parse(raw string, limits codec.Limits, rule extract.TermRule) (*Plan, error) {
	if uint64(len(raw)) > uint64(limits.MaximumQueryBytes) {
		return nil, fmt.Errorf("%w: query is %d bytes, maximum is %d",
			apperrors.ErrQueryTooLong, len(raw), limits.MaximumQueryBytes)
	}
	plan := &Plan{
		Raw:   raw,
		Terms: make([]Term, 0),
	}
	seen := make(map[Term]struct{})
	for _, word := range strings.Fields(raw) {
		mode := ModeRequire
		switch word[0] {
		case '~':
			mode = ModeContain
			word = word[1:]
		case '-':
			mode = ModeExclude
			word = word[1:]
		}
		for _, text := range rule.Split(word) {
			term := Term{Mode: mode, Text: text}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			if uint64(len(plan.Terms)) >= uint64(limits.MaximumQueryTerms) {
				plan.Dropped++
				continue
			}
			plan.Terms = append(plan.Terms, term)
		}
	}
	return plan, nil
}

// Count returns how many kept terms have the given mode.
func (p *Plan) Count(mode Mode) int {
	n := 0
	for _, t := range p.Terms {
		if t.Mode == mode {
			n++
		}
	}
	return n
}
