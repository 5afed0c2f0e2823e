// Package concept canonicalizes concept names into comparable identities.
package concept

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Concept is a topic name together with its identity key.
type Concept struct {
	Identity string `json:"identity"`
	Display  string `json:"display"`
}

// New builds a Concept from a human-readable name.
func New(display string) Concept {
	d := collapseSpace(display)
	return Concept{Identity: Normalize(d), Display: d}
}

// Normalize returns the identity key for raw. It is pure and idempotent:
// raw is composed to NFC so decomposed accents keep their letter, case is
// folded, hyphens and underscores become word separators, every
// other rune that is not a letter, digit or space is dropped, and
// whitespace runs collapse to a single space.
func Normalize(raw string) string {
	folded := norm.NFC.String(folder.String(norm.NFC.String(raw)))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_':
			b.WriteByte(' ')
		}
	}
	return collapseSpace(b.String())
}

// Equal reports whether a and b name the same concept.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Set is an insertion-ordered set of concepts keyed by identity.
// The first display text seen for an identity wins.
type Set struct {
	order []Concept
	seen  map[string]int
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{seen: make(map[string]int)}
}

// Add inserts c unless its identity is empty or already present.
func (s *Set) Add(c Concept) bool {
	if c.Identity == "" {
		return false
	}
	if _, ok := s.seen[c.Identity]; ok {
		return false
	}
	s.seen[c.Identity] = len(s.order)
	s.order = append(s.order, c)
	return true
}

// Has reports whether identity is in the set.
func (s *Set) Has(identity string) bool {
	_, ok := s.seen[identity]
	return ok
}

// Get returns the concept stored for identity.
func (s *Set) Get(identity string) (Concept, bool) {
	i, ok := s.seen[identity]
	if !ok {
		return Concept{}, false
	}
	return s.order[i], true
}

// Len returns the number of concepts.
func (s *Set) Len() int { return len(s.order) }

// Items returns the concepts in insertion order.
func (s *Set) Items() []Concept {
	out := make([]Concept, len(s.order))
	copy(out, s.order)
	return out
}
