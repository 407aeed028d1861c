// Package cable tracks how the shared measurement cable is routed between
// the source output and the multimeter inputs, so the operator is only asked
// to move it when a step actually needs a different input.
package cable

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Route is the multimeter input the cable is plugged into.
type Route int

const (
	Unset Route = iota
	Voltage
	Current
)

func (r Route) String() string {
	switch r {
	case Voltage:
		return "Voltage"
	case Current:
		return "Current"
	default:
		return "Unset"
	}
}

// Confirmer blocks until the operator acknowledges prompt.
type Confirmer interface {
	Confirm(prompt string) error
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) error

func (f ConfirmFunc) Confirm(prompt string) error { return f(prompt) }

// Tracker remembers the current route for one output connector.
type Tracker struct {
	label   string
	route   Route
	confirm Confirmer
}

// NewTracker returns a tracker in the Unset route. label names the source
// terminal in prompts, e.g. "Front Out-A".
func NewTracker(label string, c Confirmer) *Tracker {
	return &Tracker{
		label:   label,
		confirm: c,
	}
}

// Route returns the current route.
func (t *Tracker) Route() Route {
	return t.route
}

// Prompt returns the operator instruction for moving to r.
func (t *Tracker) Prompt(r Route) string {
	return fmt.Sprintf("%s -> DVM %s input", t.label, r)
}

// Ensure prompts the operator when r differs from the current route. The
// route is only updated once the operator has confirmed.
func (t *Tracker) Ensure(r Route) error {
	if r == Unset || r == t.route {
		return nil
	}

	prompt := t.Prompt(r)
	logrus.WithFields(logrus.Fields{
		"from": t.route,
		"to":   r,
	}).Info(prompt)

	if err := t.confirm.Confirm(prompt); err != nil {
		return fmt.Errorf("cable change to %s not confirmed: %w", r, err)
	}
	t.route = r
	return nil
}

// EnsureVoltage routes the cable to the voltage input.
func (t *Tracker) EnsureVoltage() error {
	return t.Ensure(Voltage)
}

// EnsureCurrent routes the cable to the current input.
func (t *Tracker) EnsureCurrent() error {
	return t.Ensure(Current)
}
