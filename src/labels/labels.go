package labels

import "strings"

// Label is one of the closed set of age categories the classifier returns.
type Label string

const (
	Child   Label = "Child"
	Adult   Label = "Adult"
	Both    Label = "Both"
	Unclear Label = "Unclear"
)

// Canonical lists the labels in the order the prompt presents them.
var Canonical = []Label{Child, Adult, Both, Unclear}

const quoteChars = "\"'`"

// Lower returns the lower-case wire form of the label.
func (l Label) Lower() string {
	return strings.ToLower(string(l))
}

// Normalize maps raw upstream text to a Label using an exact, case-sensitive
// match. Anything it cannot match is Unclear.
func Normalize(raw string) Label {
	s := clean(raw)
	for _, l := range Canonical {
		if s == string(l) {
			return l
		}
	}
	return Unclear
}

// NormalizeFold is like Normalize but falls back to a case-insensitive match
// when the exact match fails, so "adult" resolves to Adult.
func NormalizeFold(raw string) Label {
	s := clean(raw)
	for _, l := range Canonical {
		if s == string(l) {
			return l
		}
	}
	for _, l := range Canonical {
		if strings.EqualFold(s, string(l)) {
			return l
		}
	}
	return Unclear
}

// clean trims whitespace and one layer of matching quotes.
func clean(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == s[len(s)-1] && strings.IndexByte(quoteChars, s[0]) >= 0 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
