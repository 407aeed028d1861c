package daemon

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/cable"
)

var (
	// ErrNoPrompt is returned when there is nothing to acknowledge.
	ErrNoPrompt = errors.New("no operator prompt pending")
	// ErrPromptMismatch is returned when the operator acknowledged a prompt
	// other than the pending one.
	ErrPromptMismatch = errors.New("acknowledged prompt does not match the pending one")
	// ErrShuttingDown is returned to a run waiting for the operator when the
	// daemon stops.
	ErrShuttingDown = errors.New("daemon is shutting down")
)

var _ cable.Confirmer = &Prompter{}

// Prompter is a cable.Confirmer answered over the API. Confirm blocks until
// Acknowledge is called or the prompter is closed.
type Prompter struct {
	mu      sync.Mutex
	pending string
	ack     chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func NewPrompter() *Prompter {
	return &Prompter{closed: make(chan struct{})}
}

func (p *Prompter) Confirm(prompt string) error {
	ack := make(chan struct{})

	p.mu.Lock()
	if p.ack != nil {
		p.mu.Unlock()
		return errors.New("another operator prompt is already pending")
	}
	p.pending = prompt
	p.ack = ack
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.ack == ack {
			p.pending = ""
			p.ack = nil
		}
		p.mu.Unlock()
	}()

	logrus.WithField("prompt", prompt).Info("waiting for operator")

	select {
	case <-ack:
		logrus.WithField("prompt", prompt).Info("operator confirmed")
		return nil
	case <-p.closed:
		return ErrShuttingDown
	}
}

// Pending returns the prompt waiting for acknowledgment, or "".
func (p *Prompter) Pending() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Acknowledge releases the pending prompt. A non-empty expected must equal
// the pending prompt text.
func (p *Prompter) Acknowledge(expected string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ack == nil {
		return ErrNoPrompt
	}
	if expected != "" && expected != p.pending {
		return ErrPromptMismatch
	}
	close(p.ack)
	p.pending = ""
	p.ack = nil
	return nil
}

// Close fails the current and all later Confirm calls.
func (p *Prompter) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}
