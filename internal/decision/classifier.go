// Package decision turns a single modality score into a policy-checked
// verdict: threshold classification, the ordered policy rule set and the
// derived manual-inspection action.
package decision

import (
	"fmt"
	"math"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// ModalityCategory is the threshold classification of one score. The
// ordering CLEAN < AMBIGUOUS < SUSPECT is significant.
type ModalityCategory int

const (
	CategoryClean ModalityCategory = iota
	CategoryAmbiguous
	CategorySuspect

	// CategoryNone marks a verdict with no score. It sits outside the
	// ordering and is never produced by Classify.
	CategoryNone
)

func (c ModalityCategory) String() string {
	switch c {
	case CategoryClean:
		return "CLEAN"
	case CategoryAmbiguous:
		return "AMBIGUOUS"
	case CategorySuspect:
		return "SUSPECT"
	case CategoryNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the category by name in JSON.
func (c ModalityCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Thresholds is one modality's low/high pair.
type Thresholds struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Validate enforces 0 <= low < high <= 1. field names the configuration
// key in the returned error.
func (t Thresholds) Validate(field string) error {
	switch {
	case math.IsNaN(t.Low) || math.IsNaN(t.High):
		return &core.ConfigurationError{Field: field, Reason: "thresholds must be numbers"}
	case t.Low < 0:
		return &core.ConfigurationError{Field: field + ".low", Reason: fmt.Sprintf("%v is below 0", t.Low)}
	case t.High > 1:
		return &core.ConfigurationError{Field: field + ".high", Reason: fmt.Sprintf("%v is above 1", t.High)}
	case t.Low >= t.High:
		return &core.ConfigurationError{Field: field, Reason: fmt.Sprintf("low %v must be below high %v", t.Low, t.High)}
	}
	return nil
}

// Classify maps a score onto a category. Both boundaries are closed:
// score == High is SUSPECT and score == Low is CLEAN.
func Classify(score float64, t Thresholds) ModalityCategory {
	switch {
	case score >= t.High:
		return CategorySuspect
	case score <= t.Low:
		return CategoryClean
	default:
		return CategoryAmbiguous
	}
}
