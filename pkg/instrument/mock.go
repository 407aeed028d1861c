package instrument

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	_ DVM            = &Mock{}
	_ SelfTester     = &Mock{}
	_ AutoCalibrator = &Mock{}
)

// Mock is an in-memory instrument. It records every command and returns
// readings from a generator. It backs the tests and --dry-run.
type Mock struct {
	name string

	mu       sync.Mutex
	commands []string
	resets   int
	reads    int
	reading  func(n int) float64

	// failures keyed by command: returned by the WaitForCompletion that
	// follows the command.
	completionErr map[string]error
	// failures keyed by command: returned by the QueryErrorFlag that
	// follows the command.
	flagErr map[string]error
	pending string
	dataErr error
}

// NewMock returns a mock that reads back a constant value.
func NewMock(name string, reading float64) *Mock {
	return &Mock{
		name:          name,
		reading:       func(int) float64 { return reading },
		completionErr: map[string]error{},
		flagErr:       map[string]error{},
	}
}

// SetReadings replaces the reading generator. n counts from 0.
func (m *Mock) SetReadings(f func(n int) float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = f
}

// FailCompletion makes the completion wait after cmd return err.
func (m *Mock) FailCompletion(cmd string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionErr[cmd] = err
}

// FailFlag makes the error flag query after cmd return err.
func (m *Mock) FailFlag(cmd string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagErr[cmd] = err
}

// FailData makes every data wait return err.
func (m *Mock) FailData(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataErr = err
}

// Commands returns a copy of every command written so far.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Resets returns how many times Reset was called.
func (m *Mock) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Write(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"instrument": m.name,
		"cmd":        cmd,
	}).Trace("mock write")

	m.commands = append(m.commands, cmd)
	m.pending = cmd
	return nil
}

func (m *Mock) WaitForCompletion(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completionErr[m.pending]
}

func (m *Mock) WaitForData(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataErr
}

func (m *Mock) QueryErrorFlag() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagErr[m.pending]
}

func (m *Mock) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.pending = ""
	return nil
}

func (m *Mock) Read() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.reading(m.reads)
	m.reads++
	return v, nil
}

func (m *Mock) FTest(output int) (string, error) {
	if err := m.Write(fmt.Sprintf("FTEST %d", output)); err != nil {
		return "", err
	}
	return "PASSED", nil
}

func (m *Mock) ACal(kind ACalKind) error {
	return m.Write("ACAL " + string(kind))
}
