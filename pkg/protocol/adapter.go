// Package protocol wraps single command exchanges with an instrument: send,
// wait, verify the acknowledgment, and fetch readings. It never retries; every
// failure comes back as an *Error and is meant to end the procedure.
package protocol

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/instrument"
)

const (
	// DefaultCommandTimeout covers ordinary commands including calibration
	// memory writes.
	DefaultCommandTimeout = 10 * time.Second
	// DefaultReadTimeout tolerates 100 PLC integration with autozero.
	DefaultReadTimeout = 25 * time.Second
	// DefaultSlowRead is the elapsed time above which a read is reported.
	DefaultSlowRead = 15 * time.Second

	triggerCommand = "T"
)

// Adapter executes commands and reads values. Acknowledgment is always
// checked on the reference instrument, whichever instrument the command was
// sent to.
type Adapter struct {
	ack instrument.DUT

	readTimeout time.Duration
	slowRead    time.Duration
	onSlowRead  func(*SlowReadWarning)
	now         func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithReadTimeout sets the default data wait used when ReadValue is given 0.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.readTimeout = d
		}
	}
}

// WithSlowReadThreshold sets the elapsed time above which a read is reported.
func WithSlowReadThreshold(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.slowRead = d
		}
	}
}

// WithSlowReadHandler is called for every slow read, after it is logged.
func WithSlowReadHandler(f func(*SlowReadWarning)) Option {
	return func(a *Adapter) {
		a.onSlowRead = f
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// New returns an Adapter acknowledging through ack.
func New(ack instrument.DUT, opts ...Option) *Adapter {
	a := &Adapter{
		ack:         ack,
		readTimeout: DefaultReadTimeout,
		slowRead:    DefaultSlowRead,
		now:         time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Execute writes cmd to inst, waits for completion and checks the error flag.
// A zero timeout means DefaultCommandTimeout.
func (a *Adapter) Execute(inst instrument.DUT, cmd string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	logrus.WithFields(logrus.Fields{
		"instrument": inst.Name(),
		"cmd":        cmd,
	}).Debug("execute")

	if err := inst.Write(cmd); err != nil {
		return newError(inst, OpWrite, cmd, err)
	}
	if err := inst.WaitForCompletion(timeout); err != nil {
		return newError(inst, OpComplete, cmd, err)
	}
	if err := a.ack.QueryErrorFlag(); err != nil {
		return newError(a.ack, OpAcknowledge, cmd, err)
	}
	return nil
}

// ExecuteAll runs Execute for every command in order and stops at the first
// failure.
func (a *Adapter) ExecuteAll(inst instrument.DUT, cmds []string, timeout time.Duration) error {
	for _, cmd := range cmds {
		if err := a.Execute(inst, cmd, timeout); err != nil {
			return err
		}
	}
	return nil
}

// ReadValue triggers one reading on dvm and returns it. A zero timeout means
// the adapter's read timeout.
func (a *Adapter) ReadValue(dvm instrument.DVM, timeout time.Duration) (float64, error) {
	if timeout <= 0 {
		timeout = a.readTimeout
	}

	start := a.now()
	if err := dvm.Write(triggerCommand); err != nil {
		return 0, newError(dvm, OpWrite, triggerCommand, err)
	}
	if err := dvm.WaitForData(timeout); err != nil {
		return 0, newError(dvm, OpData, triggerCommand, err)
	}
	v, err := dvm.Read()
	if err != nil {
		return 0, newError(dvm, OpRead, triggerCommand, err)
	}

	if elapsed := a.now().Sub(start); elapsed > a.slowRead {
		w := &SlowReadWarning{
			Instrument: dvm.Name(),
			Elapsed:    elapsed,
			Threshold:  a.slowRead,
		}
		logrus.WithFields(logrus.Fields{
			"instrument": w.Instrument,
			"elapsed":    elapsed.Round(time.Millisecond),
			"threshold":  a.slowRead,
		}).Warn("slow read")
		if a.onSlowRead != nil {
			a.onSlowRead(w)
		}
	}

	return v, nil
}
