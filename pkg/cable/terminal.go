package cable

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var _ Confirmer = &Terminal{}

// Terminal prints prompts and waits for the operator to press ENTER.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal reads acknowledgments from in and writes prompts to out.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	if !term.IsTerminal(int(in.Fd())) {
		logrus.Debug("stdin is not a terminal, reading acknowledgments from it anyway")
	}
	return newTerminal(in, out)
}

func newTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// To returns a Terminal writing prompts to out that shares t's input. Lines
// already buffered from the input stay visible to both.
func (t *Terminal) To(out io.Writer) *Terminal {
	return &Terminal{in: t.in, out: out}
}

// Confirm prints prompt and blocks until a line is read.
func (t *Terminal) Confirm(prompt string) error {
	if _, err := fmt.Fprintf(t.out, "%s\n", prompt); err != nil {
		return err
	}
	if f, ok := t.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	if _, err := t.in.ReadString('\n'); err != nil {
		return fmt.Errorf("waiting for operator: %w", err)
	}
	return nil
}
