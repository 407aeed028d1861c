package service

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/events"
)

// DefaultCalibrationCode unlocks calibration on a factory-configured 3245A.
const DefaultCalibrationCode = 3245

// segment is a run of calibration steps sharing one meter setup.
type segment struct {
	setup  []string
	route  cable.Route
	steps  int
	commit bool
}

// calibrationPlan follows the order in which the source asks for its
// calibration points: DC voltage, the 100 V range, two auto-ranged points,
// then DC current. The source takes 71 points; the last one commits the
// calibration table and gets the long timeout.
var calibrationPlan = []segment{
	{steps: 44},
	{setup: []string{"RANGE 100"}, steps: 1},
	{setup: []string{"RANGE AUTO"}, steps: 2},
	{setup: []string{"DCI"}, route: cable.Current, steps: 23},
	{steps: 1, commit: true},
}

// CalibrationSteps is the number of points in a full calibration.
var CalibrationSteps = func() int {
	n := 0
	for _, seg := range calibrationPlan {
		n += seg.steps
	}
	return n
}()

// Calibrate runs the full calibration of the session's channel with the
// given security code. It is all-or-nothing: the first failure aborts the
// run and the records taken so far are returned with the error.
func (s *Session) Calibrate(code int) ([]calibration.Record, error) {
	s.log.WithField("code", code).Info("starting calibration")

	if err := s.resetDUT(); err != nil {
		return nil, err
	}
	if err := s.resetDVM(); err != nil {
		return nil, err
	}
	if err := s.cable.EnsureVoltage(); err != nil {
		return nil, err
	}
	if err := s.dutCommands(s.timeouts.Command, fmt.Sprintf("CAL %d", code)); err != nil {
		return nil, err
	}

	records := make([]calibration.Record, 0, CalibrationSteps)
	step := 0
	for _, seg := range calibrationPlan {
		if err := s.dvmCommands(seg.setup...); err != nil {
			return records, err
		}
		if err := s.cable.Ensure(seg.route); err != nil {
			return records, err
		}

		timeout := s.timeouts.Command
		if seg.commit {
			timeout = s.timeouts.Commit
		}
		for i := 0; i < seg.steps; i++ {
			step++
			r, err := s.calibrationStep(step, timeout)
			if err != nil {
				return records, err
			}
			records = append(records, r)
		}
	}

	s.log.WithField("steps", len(records)).Info("calibration complete")
	return records, nil
}

// calibrationStep reads the meter and stores the reading in the source.
func (s *Session) calibrationStep(step int, timeout time.Duration) (calibration.Record, error) {
	v, err := s.read()
	if err != nil {
		return calibration.Record{}, err
	}

	r := calibration.Record{
		Step:    step,
		Reading: v,
		Command: fmt.Sprintf("CAL VALUE %.9f", v),
	}
	if err := s.sink.Line(fmt.Sprintf("%2d %13.9f", r.Step, r.Reading)); err != nil {
		return r, err
	}
	s.log.WithFields(logrus.Fields{
		"step":    r.Step,
		"reading": r.Reading,
	}).Debug("calibration step")

	if err := s.dutCommands(timeout, r.Command); err != nil {
		return r, err
	}

	s.hub.Publish(events.CalibrationStep, events.CalibrationStepEvent{
		RunID:   s.id,
		Channel: int(s.channel),
		Step:    r.Step,
		Reading: r.Reading,
		Ts:      time.Now().Unix(),
	})
	s.progress(Progress{Step: r.Step})
	return r, nil
}
