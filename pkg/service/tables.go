package service

import "github.com/charlie0129/hp3245cal/pkg/cable"

// Verification procedure names, in the order a full verification runs them.
const (
	ProcedureDCV      = "dcv"
	ProcedureACV      = "acv"
	ProcedureOffset   = "offset"
	ProcedureFlatness = "flatness"
	ProcedureDCI      = "dci"
)

// DefaultProcedures is the full operational verification.
var DefaultProcedures = []string{
	ProcedureDCV,
	ProcedureACV,
	ProcedureOffset,
	ProcedureFlatness,
	ProcedureDCI,
}

func header(title string) Step { return Step{Kind: StepHeader, Title: title} }
func resetDUT() Step { return Step{Kind: StepResetDUT} }
func resetDVM() Step { return Step{Kind: StepResetDVM} }
func dut(cmds ...string) Step { return Step{Kind: StepDUT, Commands: cmds} }
func dvm(cmds ...string) Step { return Step{Kind: StepDVM, Commands: cmds} }
func route(r cable.Route) Step { return Step{Kind: StepRoute, Route: r} }
func check(c TestCase) Step { return Step{Kind: StepTest, Test: &c} }
func goal(v float64) *float64 { return &v }

// asym applies fn at target and checks the reading against target ± band.
func asym(fn string, target, band float64, unit string) Step {
	return check(TestCase{Apply: fn, Target: target, Band: band, Unit: unit})
}

// asymGoal applies fn at target and checks against g ± band, for outputs
// whose reading differs from the programmed value (RMS of a sine, offset
// polarity, dB).
func asymGoal(fn string, target, band float64, unit string, g float64) Step {
	return check(TestCase{Apply: fn, Target: target, Band: band, Unit: unit, Goal: goal(g)})
}

// bounded checks the current output against [lower, upper] with no target.
func bounded(lower, upper float64, unit string) Step {
	return check(TestCase{Bounded: true, Lower: lower, Upper: upper, Unit: unit})
}

var procedures = map[string]Procedure{
	ProcedureDCV: {
		Name: ProcedureDCV,
		Steps: []Step{
			header("DCV Amplitude Accuracy - High Res"),
			resetDVM(),
			resetDUT(),
			route(cable.Voltage),

			dut("RANGE 1"),
			asym("DCV", 1.25, 84e-6, "V"),
			asym("DCV", 0.00, 31e-6, "V"),
			asym("DCV", -1.25, 84e-6, "V"),

			dut("RANGE 10"),
			asym("DCV", 10.25, 570e-6, "V"),
			asym("DCV", 0.00, 180e-6, "V"),
			asym("DCV", -10.25, 570e-6, "V"),

			header("DCV Amplitude Accuracy - Low Res"),
			resetDUT(),

			dut("DCRES LOW", "RANGE .15625"),
			asym("DCV", .15625, 1.00e-3, "V"),
			asym("DCV", .00000, .73e-3, "V"),
			asym("DCV", -.15625, 1.00e-3, "V"),

			dut("RANGE 10"),
			asym("DCV", 10.0, 54e-3, "V"),
			asym("DCV", 0.0, 37e-3, "V"),
			asym("DCV", -10.0, 54e-3, "V"),

			header("DCV Zero Ohm Output Resistance"),
			resetDUT(),
			dvm("OHM"),
			bounded(0, .5, "Ohm"),
		},
	},
	ProcedureACV: {
		Name: ProcedureACV,
		Steps: []Step{
			dvm("ACV", "ACBAND 1000"),
			resetDUT(),
			resetDVM(),
			dvm("ACV"),
			route(cable.Voltage),

			header("ACV Amplitude Accuracy - Sine Wave"),
			dut("IMP 50", "APPLY ACV .15625", "RANGE .15625"),
			asymGoal("ACV", .15625, 720e-6, "V", .11047),
			asymGoal("ACV", .11719, 640e-6, "V", .08282),
			asymGoal("ACV", .07813, 560e-6, "V", .05523),

			dut("ARANGE ON", "APPLY ACV 10", "RANGE 10"),
			asymGoal("ACV", 10.0, 46e-3, "V", 7.070),
			asymGoal("ACV", 7.5, 41e-3, "V", 5.303),
			asymGoal("ACV", 5.0, 36e-3, "V", 3.535),

			resetDUT(),
			header("ACV Amplitude Accuracy - Square Wave"),
			dut("IMP 50", "APPLY SQV .15625", "RANGE .15625"),
			asym("SQV", .15625, 1.27e-3, "V"),
			asym("SQV", .11719, 1.15e-3, "V"),
			asym("SQV", .07813, 1.04e-3, "V"),

			dut("ARANGE ON", "APPLY SQV 10", "RANGE 10"),
			asym("SQV", 10.0, 81e-3, "V"),
			asym("SQV", 7.5, 74e-3, "V"),
			asym("SQV", 5.0, 67e-3, "V"),

			resetDUT(),
		},
	},
	ProcedureOffset: {
		Name: ProcedureOffset,
		Steps: []Step{
			header("Offset Accuracy"),
			resetDUT(),
			resetDVM(),
			route(cable.Voltage),

			dvm("DCV"),
			dut("IMP 50", "APPLY ACV 5", "FREQ 600"),
			dut("DCOFF -2.5"),
			asymGoal("ACV", 5.0, 86.5e-3, "V", -5.0),
			dut("DCOFF 2.5"),
			asymGoal("ACV", 5.0, 86.5e-3, "V", +5.0),
			dut("DCOFF 0.0390625"),
			asymGoal("ACV", .078125, 1.352e-3, "V", 0.078125),
			dut("DCOFF -0.0390625"),
			asymGoal("ACV", .078125, 1.352e-3, "V", -0.078125),
		},
	},
	ProcedureFlatness: {
		Name: ProcedureFlatness,
		Steps: []Step{
			header("Flatness"),
			resetDUT(),
			resetDVM(),
			route(cable.Voltage),

			dvm("ACDCV"),
			dut("IMP 50", "APPLY ACV 10", "FREQ 1000"),
			asymGoal("ACV", 10.0, 54e-3, "V", 7.070),

			// dB relative to the 1 kHz reading above
			dvm("SMATH 9", "MATH DB"),
			dut("FREQ 10000"),
			asymGoal("ACV", 10.0, .07, "dB", 0.0),
			dut("FREQ 1000000"),
			asymGoal("ACV", 10.0, 2.0, "dB", 0.0),
		},
	},
	ProcedureDCI: {
		Name: ProcedureDCI,
		// The full verification moves the cable before the resets.
		Before: cable.Current,
		Steps: []Step{
			header("DCI Amplitude Accuracy - High Res"),
			resetDUT(),
			resetDVM(),
			dvm("DCI"),
			route(cable.Current),

			dut("RANGE 0.0001"),
			asym("DCI", .0001, 8.5e-9, "A"),
			asym("DCI", .0000, 3.3e-9, "A"),
			asym("DCI", -.0001, 8.5e-9, "A"),

			dut("RANGE 0.1"),
			asym("DCI", .1, 23.3e-6, "A"),
			asym("DCI", .0, 3.3e-6, "A"),
			asym("DCI", -.1, 23.3e-6, "A"),

			header("DCI Amplitude Accuracy - Low Res"),
			resetDUT(),
			dut("DCRES LOW", "RANGE 0.0001"),
			asym("DCI", .0001, 630e-9, "A"),
			asym("DCI", .0000, 380e-9, "A"),
			asym("DCI", -.0001, 630e-9, "A"),

			dut("RANGE 0.1"),
			asym("DCI", .1, 720e-6, "A"),
			asym("DCI", .0, 400e-6, "A"),
			asym("DCI", -.1, 720e-6, "A"),
		},
	},
}

// LookupProcedure returns the named verification procedure.
func LookupProcedure(name string) (Procedure, bool) {
	p, ok := procedures[name]
	return p, ok
}
