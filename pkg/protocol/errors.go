package protocol

import (
	"fmt"
	"time"

	"github.com/charlie0129/hp3245cal/pkg/instrument"
)

// Op names the stage of an exchange that failed.
type Op string

const (
	OpWrite       Op = "write"
	OpComplete    Op = "wait for completion"
	OpAcknowledge Op = "acknowledge"
	OpData        Op = "wait for data"
	OpRead        Op = "read"
)

// Error is a failed instrument exchange. It is fatal to the procedure that
// issued the command.
type Error struct {
	Instrument string
	Op         Op
	Command    string
	Err        error
}

func newError(inst instrument.DUT, op Op, cmd string, err error) *Error {
	return &Error{
		Instrument: inst.Name(),
		Op:         op,
		Command:    cmd,
		Err:        err,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", e.Instrument, e.Op, e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SlowReadWarning reports a reading that took longer than the threshold.
// It never aborts a run.
type SlowReadWarning struct {
	Instrument string
	Elapsed    time.Duration
	Threshold  time.Duration
}

func (w *SlowReadWarning) Error() string {
	return fmt.Sprintf("%s: read took %s (threshold %s)", w.Instrument, w.Elapsed.Round(time.Millisecond), w.Threshold)
}
