// Package tolerance classifies a reading against an acceptance window and
// renders it as one fixed-width report line.
package tolerance

import (
	"fmt"
	"math"
	"strings"
)

// Verdict is the outcome of one measurement.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

const (
	numberWidth  = 13
	percentWidth = 6
)

// Spec is the acceptance window of one measurement. Target is nil for
// one-sided checks such as the output resistance floor.
type Spec struct {
	Lower  float64  `json:"lower"`
	Target *float64 `json:"target,omitempty"`
	Upper  float64  `json:"upper"`
	Unit   string   `json:"unit"`
}

// Symmetric returns the window target ± band.
func Symmetric(target, band float64, unit string) Spec {
	return Spec{
		Lower:  target - band,
		Target: &target,
		Upper:  target + band,
		Unit:   unit,
	}
}

// Bounded returns a window with no target.
func Bounded(lower, upper float64, unit string) Spec {
	return Spec{
		Lower: lower,
		Upper: upper,
		Unit:  unit,
	}
}

// Result is one evaluated reading.
type Result struct {
	Spec     Spec     `json:"spec"`
	Measured float64  `json:"measured"`
	Verdict  Verdict  `json:"verdict"`
	Percent  *float64 `json:"percent,omitempty"`
}

// Evaluate classifies measured against s. Both bounds are inclusive.
//
// The deviation is reported relative to the whole window width
// (upper - lower), not to the half-band, so a reading on a bound of a
// symmetric window shows ±50%.
func Evaluate(s Spec, measured float64) Result {
	r := Result{
		Spec:     s,
		Measured: measured,
		Verdict:  Pass,
	}
	// NaN compares false against both bounds.
	if math.IsNaN(measured) || measured < s.Lower || measured > s.Upper {
		r.Verdict = Fail
	}
	if s.Target != nil && s.Upper != s.Lower && !math.IsNaN(measured) {
		p := 100.0 * (measured - *s.Target) / (s.Upper - s.Lower)
		r.Percent = &p
	}
	return r
}

// Passed reports whether the reading is inside the window.
func (r Result) Passed() bool {
	return r.Verdict == Pass
}

// String renders the report line:
//
//	[  1.166000000   1.250000000   1.334000000]   1.250000000 V     0.0% PASS
func (r Result) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%13.9f ", r.Spec.Lower)
	if r.Spec.Target != nil {
		fmt.Fprintf(&sb, "%13.9f", *r.Spec.Target)
	} else {
		sb.WriteString(strings.Repeat(" ", numberWidth))
	}
	fmt.Fprintf(&sb, " %13.9f] %13.9f %-3s ", r.Spec.Upper, r.Measured, r.Spec.Unit)
	if r.Percent != nil {
		fmt.Fprintf(&sb, "%5.1f%%", *r.Percent)
	} else {
		sb.WriteString(strings.Repeat(" ", percentWidth))
	}
	sb.WriteString(" ")
	sb.WriteString(string(r.Verdict))

	return sb.String()
}
