package calibration

import "time"

// Procedure is the kind of run.
type Procedure string

const (
	ProcedureCalibrate Procedure = "calibrate"
	ProcedureVerify    Procedure = "verify"
	ProcedureSelfTest  Procedure = "selftest"
	ProcedureACal      Procedure = "acal"
)

// Phase is where a run currently is.
type Phase string

const (
	PhaseIdle    Phase = "Idle"
	PhaseRunning Phase = "Running"
	// PhaseWaiting means the run is blocked on an operator prompt.
	PhaseWaiting Phase = "WaitingForOperator"
	PhaseDone    Phase = "Done"
	PhaseError   Phase = "Error"
)

// Record is one calibration step: the reading taken from the reference
// meter and the command that stored it in the source.
type Record struct {
	Step    int     `json:"step"`
	Reading float64 `json:"reading"`
	Command string  `json:"command"`
}

// Summary counts the verdicts of a verification run.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// State holds the runtime state of the current or last run.
type State struct {
	ID         string    `json:"id"`
	Procedure  Procedure `json:"procedure"`
	Channel    int       `json:"channel"`
	Phase      Phase     `json:"phase"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Step       int       `json:"step"`
	Summary    Summary   `json:"summary"`
	LastError  string    `json:"lastError"`
}

// Status is the view model exposed by the daemon. It derives from State plus
// the pending operator prompt and the ACAL schedule.
type Status struct {
	State
	Prompt   string    `json:"prompt,omitempty"`
	Report   string    `json:"report,omitempty"`
	NextACal time.Time `json:"nextACal,omitempty"`
}

// Active reports whether a run is in progress.
func (s State) Active() bool {
	return s.Phase == PhaseRunning || s.Phase == PhaseWaiting
}

// RunRequest asks the daemon to start a run. Channel accepts the same forms
// as the command line ("a", "b", "0", "101", ...). Only selects verification
// procedures; Code overrides the configured calibration code; ACalKind
// overrides the configured auto-calibration kind.
type RunRequest struct {
	Procedure Procedure `json:"procedure"`
	Channel   string    `json:"channel,omitempty"`
	Only      []string  `json:"only,omitempty"`
	Code      int       `json:"code,omitempty"`
	ACalKind  string    `json:"acalKind,omitempty"`
}
