// Package service sequences calibration, operational verification and self
// test of an HP 3245A against an HP 3458A for one output channel at a time.
package service

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/protocol"
	"github.com/charlie0129/hp3245cal/pkg/report"
)

// Timeouts bounds every blocking exchange of a session.
type Timeouts struct {
	Command  time.Duration
	Read     time.Duration
	SlowRead time.Duration
	// Commit is the command timeout of the last calibration step.
	Commit time.Duration
}

// DefaultTimeouts are the bench defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Command:  protocol.DefaultCommandTimeout,
		Read:     protocol.DefaultReadTimeout,
		SlowRead: protocol.DefaultSlowRead,
		Commit:   60 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Command <= 0 {
		t.Command = d.Command
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.SlowRead <= 0 {
		t.SlowRead = d.SlowRead
	}
	if t.Commit <= 0 {
		t.Commit = d.Commit
	}
	return t
}

// Progress is reported after every calibration step and verification result.
type Progress struct {
	Step    int
	Summary calibration.Summary
}

// Options configures a Session. DUT, DVM and Confirmer are required.
type Options struct {
	// ID identifies the run. A random UUID is used when empty.
	ID        string
	Channel   Channel
	DUT       instrument.DUT
	DVM       instrument.DVM
	Confirmer cable.Confirmer
	// Console receives step lines, headers and results. Defaults to stdout.
	Console io.Writer
	// ReportDir is where verification reports are written. Defaults to ".".
	ReportDir string
	Timeouts  Timeouts
	// Hub, when set, receives progress events.
	Hub *events.Hub
	// OnProgress, when set, is called synchronously from the run.
	OnProgress func(Progress)
	// Clock replaces time.Now for slow-read detection.
	Clock func() time.Time
}

// Session drives one channel. The instruments are borrowed and never closed.
type Session struct {
	id      string
	channel Channel

	dut     instrument.DUT
	dvm     instrument.DVM
	adapter *protocol.Adapter
	cable   *cable.Tracker
	sink    *report.Sink

	reportDir  string
	timeouts   Timeouts
	hub        *events.Hub
	onProgress func(Progress)
	log        *logrus.Entry
}

// NewSession validates o and builds a session. It performs no I/O.
func NewSession(o Options) (*Session, error) {
	if !o.Channel.Valid() {
		return nil, &ConfigurationError{Field: "channel", Value: fmt.Sprint(int(o.Channel)), Err: ErrInvalidChannel}
	}
	if o.DUT == nil || o.DVM == nil {
		return nil, &ConfigurationError{Field: "instruments", Value: "nil", Err: fmt.Errorf("both DUT and DVM are required")}
	}
	if o.Confirmer == nil {
		return nil, &ConfigurationError{Field: "confirmer", Value: "nil", Err: fmt.Errorf("an operator confirmer is required")}
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	if o.ReportDir == "" {
		o.ReportDir = "."
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	s := &Session{
		id:         o.ID,
		channel:    o.Channel,
		dut:        o.DUT,
		dvm:        o.DVM,
		sink:       report.NewSink(o.Console),
		reportDir:  o.ReportDir,
		timeouts:   o.Timeouts.withDefaults(),
		hub:        o.Hub,
		onProgress: o.OnProgress,
	}
	s.log = logrus.WithFields(logrus.Fields{
		"run":     s.id,
		"channel": int(s.channel),
	})
	s.cable = cable.NewTracker(o.Channel.Label(), s.announce(o.Confirmer))

	opts := []protocol.Option{
		protocol.WithReadTimeout(s.timeouts.Read),
		protocol.WithSlowReadThreshold(s.timeouts.SlowRead),
		protocol.WithSlowReadHandler(func(w *protocol.SlowReadWarning) {
			s.hub.Publish(events.SlowRead, events.SlowReadEvent{
				Instrument: w.Instrument,
				ElapsedSec: w.Elapsed.Seconds(),
				Ts:         time.Now().Unix(),
			})
		}),
	}
	if o.Clock != nil {
		opts = append(opts, protocol.WithClock(o.Clock))
	}
	// The reference meter acknowledges every command, including the ones
	// sent to the source.
	s.adapter = protocol.New(o.DVM, opts...)

	return s, nil
}

// announce publishes every prompt before handing it to c.
func (s *Session) announce(c cable.Confirmer) cable.Confirmer {
	return cable.ConfirmFunc(func(prompt string) error {
		s.hub.Publish(events.OperatorPrompt, events.OperatorPromptEvent{
			Prompt: prompt,
			Ts:     time.Now().Unix(),
		})
		return c.Confirm(prompt)
	})
}

// ID identifies the session in logs and events.
func (s *Session) ID() string { return s.id }

// Channel returns the channel the session drives.
func (s *Session) Channel() Channel { return s.channel }

// Route returns the tracked cable route.
func (s *Session) Route() cable.Route { return s.cable.Route() }

func (s *Session) progress(p Progress) {
	if s.onProgress != nil {
		s.onProgress(p)
	}
}

func (s *Session) dutCommands(timeout time.Duration, cmds ...string) error {
	return s.adapter.ExecuteAll(s.dut, cmds, timeout)
}

func (s *Session) dvmCommands(cmds ...string) error {
	return s.adapter.ExecuteAll(s.dvm, cmds, s.timeouts.Command)
}

// resetDUT resets only the session's channel and selects it.
func (s *Session) resetDUT() error {
	return s.dutCommands(s.timeouts.Command,
		fmt.Sprintf("RESET %d", s.channel),
		fmt.Sprintf("USE %d", s.channel),
	)
}

// resetDVM presets the meter and sets 100 PLC, 8 digit integration.
func (s *Session) resetDVM() error {
	if err := s.dvm.Reset(); err != nil {
		return pkgerrors.Wrapf(err, "failed to reset %s", s.dvm.Name())
	}
	return s.dvmCommands("NPLC 100", "NDIG 8")
}

func (s *Session) read() (float64, error) {
	return s.adapter.ReadValue(s.dvm, s.timeouts.Read)
}
