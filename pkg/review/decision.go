package review

import (
	"errors"
	"fmt"
)

// ErrInvalidDecision reports a per-hit decision value outside
// {Yes, No, Unsure}.
var ErrInvalidDecision = errors.New("invalid decision")

// Decision is a reviewer's consolidated judgment of a misuse.
// Precedence when folding per-hit entries: YES > NO > UNSURE.
type Decision int

// Decision values, ordered by precedence.
const (
	Unsure Decision = iota
	No
	Yes
)

// String renders the decision in the form reviewers submit it.
func (d Decision) String() string {
	switch d {
	case Yes:
		return "Yes"
	case No:
		return "No"
	default:
		return "Unsure"
	}
}

// MarshalJSON renders the decision as its string form.
func (d Decision) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// ParseDecision parses a submitted per-hit decision value.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "Yes":
		return Yes, nil
	case "No":
		return No, nil
	case "Unsure":
		return Unsure, nil
	}

	return Unsure, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Reduce folds per-hit decisions into one: YES if any hit was judged a
// true positive, else NO if any was rejected, else UNSURE. An empty
// list reduces to UNSURE.
func Reduce(decisions []Decision) Decision {
	overall := Unsure

	for _, d := range decisions {
		if d > overall {
			overall = d
		}
	}

	return overall
}
