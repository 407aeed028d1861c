package daemon

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/service"
)

var (
	// ErrRunInProgress is returned when a run is requested while another
	// one is active.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrUnsupported is returned when the connected instruments cannot
	// perform the requested procedure.
	ErrUnsupported = errors.New("procedure not supported by the connected instruments")
	// ErrBadRequest wraps validation failures of a RunRequest.
	ErrBadRequest = errors.New("bad run request")
)

// job is a validated RunRequest.
type job struct {
	req     calibration.RunRequest
	channel service.Channel
	kind    instrument.ACalKind
}

func (d *Daemon) validate(req calibration.RunRequest) (job, error) {
	j := job{req: req}

	switch req.Procedure {
	case calibration.ProcedureCalibrate, calibration.ProcedureVerify:
		ch, err := service.ParseChannel(req.Channel)
		if err != nil {
			return j, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		j.channel = ch
		for _, name := range req.Only {
			if _, ok := service.LookupProcedure(name); !ok {
				return j, fmt.Errorf("%w: %w: %s", ErrBadRequest, service.ErrUnknownProcedure, name)
			}
		}
	case calibration.ProcedureSelfTest:
		if _, ok := d.dut.(instrument.SelfTester); !ok {
			return j, fmt.Errorf("%w: %s has no functional test", ErrUnsupported, d.dut.Name())
		}
	case calibration.ProcedureACal:
		if _, ok := d.dvm.(instrument.AutoCalibrator); !ok {
			return j, fmt.Errorf("%w: %s has no auto-calibration", ErrUnsupported, d.dvm.Name())
		}
		kind := req.ACalKind
		if kind == "" {
			kind = d.conf.ACalKind()
		}
		k, err := instrument.ParseACalKind(kind)
		if err != nil {
			return j, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		j.kind = k
	default:
		return j, fmt.Errorf("%w: unknown procedure %q", ErrBadRequest, req.Procedure)
	}
	return j, nil
}

// StartRun validates req and starts it in the background. Only one run is
// active at a time.
func (d *Daemon) StartRun(req calibration.RunRequest) (calibration.State, error) {
	j, err := d.validate(req)
	if err != nil {
		return calibration.State{}, err
	}

	d.mu.Lock()
	if d.state.Active() {
		st := d.state
		d.mu.Unlock()
		return st, ErrRunInProgress
	}
	prev := d.state.Phase
	d.state = calibration.State{
		ID:        uuid.NewString(),
		Procedure: req.Procedure,
		Channel:   int(j.channel),
		Phase:     calibration.PhaseRunning,
		StartedAt: time.Now(),
	}
	d.report = ""
	st := d.state
	d.runs.Add(1)
	d.mu.Unlock()

	d.publishPhase(st, prev, "")
	logrus.WithFields(logrus.Fields{
		"run":       st.ID,
		"procedure": st.Procedure,
		"channel":   st.Channel,
	}).Info("run started")

	go d.execute(st.ID, j)
	return st, nil
}

func (d *Daemon) execute(id string, j job) {
	defer d.runs.Done()

	err := d.perform(id, j)

	d.mu.Lock()
	st := &d.state
	st.FinishedAt = time.Now()
	st.Phase = calibration.PhaseDone
	if err != nil {
		st.Phase = calibration.PhaseError
		st.LastError = err.Error()
	}
	final := *st
	d.mu.Unlock()

	entry := logrus.WithFields(logrus.Fields{
		"run":      id,
		"duration": final.FinishedAt.Sub(final.StartedAt).Round(time.Second),
	})
	if err != nil {
		entry.WithError(err).Error("run failed")
	} else {
		entry.Info("run finished")
	}
	d.publishPhase(final, calibration.PhaseRunning, final.LastError)
}

func (d *Daemon) perform(id string, j job) error {
	console := logrus.WithField("run", id).WriterLevel(logrus.InfoLevel)
	defer console.Close()

	switch j.req.Procedure {
	case calibration.ProcedureSelfTest:
		_, err := service.SelfTest(d.dut.(instrument.SelfTester), d.prompter, console)
		return err
	case calibration.ProcedureACal:
		return d.dvm.(instrument.AutoCalibrator).ACal(j.kind)
	}

	s, err := d.session(id, j.channel, console)
	if err != nil {
		return err
	}
	if j.req.Procedure == calibration.ProcedureCalibrate {
		code := j.req.Code
		if code == 0 {
			code = d.conf.CalibrationCode()
		}
		_, err = s.Calibrate(code)
		return err
	}

	v, err := s.Verify(j.req.Only...)
	if v != nil {
		d.mu.Lock()
		d.report = v.Report
		d.mu.Unlock()
	}
	return err
}

func (d *Daemon) session(id string, ch service.Channel, console io.Writer) (*service.Session, error) {
	return service.NewSession(service.Options{
		ID:        id,
		Channel:   ch,
		DUT:       d.dut,
		DVM:       d.dvm,
		Confirmer: d.prompter,
		Console:   console,
		ReportDir: d.conf.ReportDir(),
		Timeouts: service.Timeouts{
			Command:  d.conf.CommandTimeout(),
			Read:     d.conf.ReadTimeout(),
			SlowRead: d.conf.SlowReadThreshold(),
			Commit:   d.conf.CommitTimeout(),
		},
		Hub:        d.hub,
		OnProgress: d.progress,
	})
}

func (d *Daemon) progress(p service.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Step = p.Step
	d.state.Summary = p.Summary
}

// busy is the ACAL precheck: the meter must not be in use.
func (d *Daemon) busy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Active() {
		return ErrRunInProgress
	}
	return nil
}

func (d *Daemon) publishPhase(st calibration.State, from calibration.Phase, msg string) {
	d.hub.Publish(events.RunPhase, events.RunPhaseEvent{
		RunID:     st.ID,
		Procedure: string(st.Procedure),
		Channel:   st.Channel,
		From:      string(from),
		To:        string(st.Phase),
		Message:   msg,
		Ts:        time.Now().Unix(),
	})
}

// Status returns the current run state with the pending prompt and the next
// scheduled ACAL.
func (d *Daemon) Status() calibration.Status {
	d.mu.Lock()
	st := d.state
	rep := d.report
	d.mu.Unlock()

	prompt := d.prompter.Pending()
	if st.Phase == calibration.PhaseRunning && prompt != "" {
		st.Phase = calibration.PhaseWaiting
	}
	next, running := d.scheduler.Status()
	if !running {
		next = time.Time{}
	}

	return calibration.Status{
		State:    st,
		Prompt:   prompt,
		Report:   rep,
		NextACal: next,
	}
}
