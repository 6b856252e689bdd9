package gs1

import (
	"strings"
)

// Element is one AI/value pair
type Element struct {
	AI    string `json:"ai"`
	Value string `json:"value"`
}

// ElementString is an ordered set of AI/value pairs with no duplicate AI
type ElementString []Element

// Get returns the value stored under ai
func (es ElementString) Get(ai string) (string, bool) {
	for _, e := range es {
		if e.AI == ai {
			return e.Value, true
		}
	}
	return "", false
}

// Has reports whether ai is present
func (es ElementString) Has(ai string) bool {
	_, ok := es.Get(ai)
	return ok
}

// Map returns the pairs as an unordered map
func (es ElementString) Map() map[string]string {
	m := make(map[string]string, len(es))
	for _, e := range es {
		m[e.AI] = e.Value
	}
	return m
}

// Pairs renders each element as "AI:value" in order
func (es ElementString) Pairs() []string {
	pairs := make([]string, 0, len(es))
	for _, e := range es {
		pairs = append(pairs, e.AI+":"+e.Value)
	}
	return pairs
}

// Encode renders the element string back into a Data Matrix style payload:
// a leading FNC1, then each AI and value, with variable-length fields
// terminated by FNC1 unless they are last.
func (es ElementString) Encode() string {
	var b strings.Builder
	b.WriteString(FNC1)
	for i, e := range es {
		b.WriteString(e.AI)
		b.WriteString(e.Value)
		if i == len(es)-1 {
			continue
		}
		if def, ok := Lookup(e.AI); !ok || def.Variable() {
			b.WriteString(FNC1)
		}
	}
	return b.String()
}

// FromPairs rebuilds an ElementString from "AI:value" pairs as produced by
// Pairs. The value may itself contain ':'.
func FromPairs(pairs []string) (ElementString, error) {
	es := make(ElementString, 0, len(pairs))
	for i, pair := range pairs {
		ai, value, ok := strings.Cut(pair, ":")
		if !ok || ai == "" {
			return nil, newParseError(ErrMalformedPair, "", i, pair)
		}
		if es.Has(ai) {
			return nil, newParseError(ErrDuplicateAI, ai, i, "")
		}
		es = append(es, Element{AI: ai, Value: value})
	}
	return es, nil
}

// PairValue returns the value for ai from an "AI:value" list
func PairValue(pairs []string, ai string) (string, bool) {
	prefix := ai + ":"
	for _, pair := range pairs {
		if strings.HasPrefix(pair, prefix) {
			return pair[len(prefix):], true
		}
	}
	return "", false
}
