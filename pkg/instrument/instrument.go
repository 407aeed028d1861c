// Package instrument holds the GPIB instrument drivers used on the bench and
// the capability interfaces the sequencers are written against.
//
// The source under test (HP 3245A) only needs to accept commands and report
// completion and errors; the reference multimeter (HP 3458A) additionally
// produces readings.
package instrument

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DUT is the device under test.
type DUT interface {
	// Name identifies the instrument in logs and errors.
	Name() string
	// Write sends a command without waiting for it to complete.
	Write(cmd string) error
	// WaitForCompletion blocks until the instrument is ready for the next
	// command or timeout expires.
	WaitForCompletion(timeout time.Duration) error
	// QueryErrorFlag returns a *ReportedError when the instrument has
	// errors queued, nil otherwise.
	QueryErrorFlag() error
	// Reset puts the instrument into its power-on state.
	Reset() error
}

// DVM is the reference multimeter.
type DVM interface {
	DUT
	// WaitForData blocks until a reading is available or timeout expires.
	WaitForData(timeout time.Duration) error
	// Read fetches one reading.
	Read() (float64, error)
}

// SelfTester runs the built-in functional test of a source.
type SelfTester interface {
	FTest(output int) (string, error)
}

// AutoCalibrator runs the internal auto-calibration of a multimeter.
type AutoCalibrator interface {
	ACal(kind ACalKind) error
}

// ErrTimeout is returned when a status wait expires.
var ErrTimeout = errors.New("timeout waiting for instrument")

// ErrIdentity is returned when an instrument answers ID? unexpectedly.
var ErrIdentity = errors.New("unexpected instrument identity")

// ReportedError carries the error strings an instrument had queued.
type ReportedError struct {
	Instrument string
	Messages   []string
}

func (e *ReportedError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s reported errors", e.Instrument)
	}
	return fmt.Sprintf("%s reported errors: %s", e.Instrument, strings.Join(e.Messages, "; "))
}
