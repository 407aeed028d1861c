package events

import "encoding/json"

// Event names published while a run progresses.
const (
	RunPhase          = "run.phase"
	CalibrationStep   = "calibration.step"
	ReportHeader      = "report.header"
	VerificationCheck = "verification.result"
	OperatorPrompt    = "operator.prompt"
	SlowRead          = "read.slow"
	ACalUpcoming      = "acal.upcoming"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// RunPhaseEvent is the payload of run.phase.
type RunPhaseEvent struct {
	RunID     string `json:"runId"`
	Procedure string `json:"procedure"`
	Channel   int    `json:"channel"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message,omitempty"`
	Ts        int64  `json:"ts"`
}

// CalibrationStepEvent is the payload of calibration.step.
type CalibrationStepEvent struct {
	RunID   string  `json:"runId"`
	Channel int     `json:"channel"`
	Step    int     `json:"step"`
	Reading float64 `json:"reading"`
	Ts      int64   `json:"ts"`
}

// ReportHeaderEvent is the payload of report.header.
type ReportHeaderEvent struct {
	RunID string `json:"runId"`
	Title string `json:"title"`
	Ts    int64  `json:"ts"`
}

// VerificationResultEvent is the payload of verification.result.
type VerificationResultEvent struct {
	RunID   string `json:"runId"`
	Channel int    `json:"channel"`
	Line    string `json:"line"`
	Passed  bool   `json:"passed"`
	Ts      int64  `json:"ts"`
}

// OperatorPromptEvent is the payload of operator.prompt.
type OperatorPromptEvent struct {
	Prompt string `json:"prompt"`
	Ts     int64  `json:"ts"`
}

// SlowReadEvent is the payload of read.slow.
type SlowReadEvent struct {
	Instrument string  `json:"instrument"`
	ElapsedSec float64 `json:"elapsedSeconds"`
	Ts         int64   `json:"ts"`
}

// ACalUpcomingEvent is the payload of acal.upcoming.
type ACalUpcomingEvent struct {
	Kind  string `json:"kind"`
	RunAt int64  `json:"runAt"`
	Ts    int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// If Data is empty, it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
