// Package codematch compares a speech transcript with the challenge code the
// subject was asked to read aloud.
package codematch

import (
	"fmt"
	"strings"
)

// DefaultThreshold accepts a transcript when at least half of the code is
// effectively correct (3 of 6 characters for the standard code length).
const DefaultThreshold = 0.5

// Result is the outcome of one comparison.
type Result struct {
	Matched              bool    `json:"matched"`
	Confidence           float64 `json:"confidence"`
	Distance             int     `json:"distance"`
	NormalizedTranscript string  `json:"normalized_transcript"`
	NormalizedExpected   string  `json:"normalized_expected"`
}

// Matcher is immutable and safe for concurrent use.
type Matcher struct {
	threshold float64
}

// NewMatcher validates the acceptance threshold, which must lie in (0, 1].
func NewMatcher(threshold float64) (*Matcher, error) {
	if !(threshold > 0 && threshold <= 1) {
		return nil, fmt.Errorf("code match threshold %v must be in (0, 1]", threshold)
	}
	return &Matcher{threshold: threshold}, nil
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match normalizes both strings and scores their similarity. Two empty
// strings score 0: an empty code proves nothing.
func (m *Matcher) Match(transcript, expected string) Result {
	a, b := Normalize(transcript), Normalize(expected)
	res := Result{NormalizedTranscript: a, NormalizedExpected: b}

	if a == "" && b == "" {
		return res
	}
	if a == b {
		res.Confidence = 1
		res.Matched = true
		return res
	}

	res.Distance = Levenshtein(a, b)
	res.Confidence = confidence(res.Distance, max(len(a), len(b)))
	res.Matched = res.Confidence >= m.threshold
	return res
}

func confidence(distance, maxLen int) float64 {
	if maxLen == 0 {
		return 0
	}
	c := 1 - float64(distance)/float64(maxLen)
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Normalize upper-cases s and drops every character outside [A-Z0-9].
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Levenshtein is the edit distance between two normalized (ASCII) strings.
func Levenshtein(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
