// Package report writes verification section headers and result lines to
// the console and, while a run is active, to a per-channel text file.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/tolerance"
)

// FileName is the report file name for an output channel.
func FileName(channel int) string {
	return fmt.Sprintf("_hp3245_operational_verification_%d.txt", channel)
}

// Sink duplicates report output to the console and an optional file.
type Sink struct {
	console io.Writer

	mu   sync.Mutex
	file *os.File
	path string

	pass *color.Color
	fail *color.Color
}

// NewSink writes console output to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{
		console: w,
		pass:    color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
	}
}

// Open creates (or truncates) the report file at path.
func (s *Sink) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("report %s is already open", s.path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return pkgerrors.Wrapf(err, "failed to create report directory %s", dir)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open report %s", path)
	}
	s.file = f
	s.path = path

	logrus.WithField("path", path).Debug("report opened")
	return nil
}

// Path returns the path of the open report, or "".
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Close closes the report file. It is safe to call when nothing is open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	logrus.WithField("path", s.path).Debug("report closed")
	s.file = nil
	s.path = ""
	if err != nil {
		return pkgerrors.Wrap(err, "failed to close report")
	}
	return nil
}

// Header writes a blank line, title and a dash underline of equal length.
func (s *Sink) Header(title string) error {
	text := "\n" + title + "\n" + strings.Repeat("-", len(title)) + "\n"
	return s.write(text, text)
}

// Line writes one preformatted line.
func (s *Sink) Line(line string) error {
	return s.write(line+"\n", line+"\n")
}

// Result writes r with the verdict coloured on the console only.
func (s *Sink) Result(r tolerance.Result) error {
	line := r.String()

	c := s.pass
	if !r.Passed() {
		c = s.fail
	}
	console := strings.TrimSuffix(line, string(r.Verdict)) + c.Sprint(string(r.Verdict))

	return s.write(console+"\n", line+"\n")
}

func (s *Sink) write(console, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.console, console); err != nil {
		return err
	}
	if s.file == nil {
		return nil
	}
	if _, err := io.WriteString(s.file, file); err != nil {
		return pkgerrors.Wrapf(err, "failed to write report %s", s.path)
	}
	return nil
}
