package service

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/report"
	"github.com/charlie0129/hp3245cal/pkg/tolerance"
)

// StepKind selects what a verification Step does.
type StepKind int

const (
	StepHeader StepKind = iota
	StepResetDUT
	StepResetDVM
	StepDUT
	StepDVM
	StepRoute
	StepTest
)

// Step is one entry of a verification procedure table.
type Step struct {
	Kind     StepKind
	Title    string
	Commands []string
	Route    cable.Route
	Test     *TestCase
}

// TestCase takes one meter reading and evaluates it.
//
// With Apply set, "APPLY <Apply> <Target>" is sent to the source first and
// the window is Goal ± Band, where Goal defaults to Target. With Bounded set
// the window is [Lower, Upper] and has no target.
type TestCase struct {
	Apply  string
	Target float64
	Goal   *float64
	Band   float64

	Bounded bool
	Lower   float64
	Upper   float64

	Unit string
}

// Command is the source command issued before the reading, or "".
func (c TestCase) Command() string {
	if c.Apply == "" {
		return ""
	}
	return fmt.Sprintf("APPLY %s %.6f", c.Apply, c.Target)
}

// Spec is the acceptance window of the test.
func (c TestCase) Spec() tolerance.Spec {
	if c.Bounded {
		return tolerance.Bounded(c.Lower, c.Upper, c.Unit)
	}
	g := c.Target
	if c.Goal != nil {
		g = *c.Goal
	}
	return tolerance.Symmetric(g, c.Band, c.Unit)
}

// Procedure is a named verification table.
type Procedure struct {
	Name string
	// Before is requested from the cable tracker ahead of the table when
	// the procedure runs as part of a verification.
	Before cable.Route
	Steps  []Step
}

// Verification is the outcome of Verify.
type Verification struct {
	Report  string              `json:"report"`
	Results []tolerance.Result  `json:"results"`
	Summary calibration.Summary `json:"summary"`
}

// Verify runs the named procedures, or all of them when none are given,
// writing the report file of the channel. The report is closed on every
// return path. A failed reading is not an error; it is counted in the
// summary.
func (s *Session) Verify(names ...string) (*Verification, error) {
	if len(names) == 0 {
		names = DefaultProcedures
	}
	procs := make([]Procedure, 0, len(names))
	for _, n := range names {
		p, ok := LookupProcedure(n)
		if !ok {
			return nil, &ConfigurationError{Field: "procedure", Value: n, Err: ErrUnknownProcedure}
		}
		procs = append(procs, p)
	}

	path := filepath.Join(s.reportDir, report.FileName(int(s.channel)))
	if err := s.sink.Open(path); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.sink.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close report")
		}
	}()

	v := &Verification{Report: path}
	s.log.WithFields(logrus.Fields{
		"procedures": names,
		"report":     path,
	}).Info("starting verification")

	for _, p := range procs {
		if err := s.cable.Ensure(p.Before); err != nil {
			return v, err
		}
		if err := s.runProcedure(p, v); err != nil {
			return v, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"passed": v.Summary.Passed,
		"failed": v.Summary.Failed,
	}).Info("verification complete")
	return v, nil
}

func (s *Session) runProcedure(p Procedure, v *Verification) error {
	s.log.WithField("procedure", p.Name).Debug("running procedure")

	for _, st := range p.Steps {
		var err error
		switch st.Kind {
		case StepHeader:
			err = s.header(st.Title)
		case StepResetDUT:
			err = s.resetDUT()
		case StepResetDVM:
			err = s.resetDVM()
		case StepDUT:
			err = s.dutCommands(s.timeouts.Command, st.Commands...)
		case StepDVM:
			err = s.dvmCommands(st.Commands...)
		case StepRoute:
			err = s.cable.Ensure(st.Route)
		case StepTest:
			var r tolerance.Result
			r, err = s.runTest(*st.Test)
			if err == nil {
				v.Results = append(v.Results, r)
				if r.Passed() {
					v.Summary.Passed++
				} else {
					v.Summary.Failed++
				}
				s.progress(Progress{Step: len(v.Results), Summary: v.Summary})
			}
		default:
			err = fmt.Errorf("unknown step kind %d in procedure %s", st.Kind, p.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) header(title string) error {
	if err := s.sink.Header(title); err != nil {
		return err
	}
	s.hub.Publish(events.ReportHeader, events.ReportHeaderEvent{
		RunID: s.id,
		Title: title,
		Ts:    time.Now().Unix(),
	})
	return nil
}

// runTest applies the test's source setting, reads once and reports.
func (s *Session) runTest(c TestCase) (tolerance.Result, error) {
	if cmd := c.Command(); cmd != "" {
		if err := s.dutCommands(s.timeouts.Command, cmd); err != nil {
			return tolerance.Result{}, err
		}
	}
	v, err := s.read()
	if err != nil {
		return tolerance.Result{}, err
	}

	r := tolerance.Evaluate(c.Spec(), v)
	if err := s.sink.Result(r); err != nil {
		return r, err
	}
	s.hub.Publish(events.VerificationCheck, events.VerificationResultEvent{
		RunID:   s.id,
		Channel: int(s.channel),
		Line:    r.String(),
		Passed:  r.Passed(),
		Ts:      time.Now().Unix(),
	})
	return r, nil
}
