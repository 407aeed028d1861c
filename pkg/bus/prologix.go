package bus

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxLineLength bounds a single response so a babbling instrument cannot
// make ReadLine spin forever.
const maxLineLength = 4096

var _ Bus = &Prologix{}

// Prologix drives instruments through a Prologix GPIB-USB controller.
//
// Everything sent goes through the prologix.Controller. Readings are read
// back from the port by readLine.
type Prologix struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	ctrl *prologix.Controller
	addr int
}

// Open opens the virtual COM port of the controller and addresses the
// instrument at addr.
func Open(serialPort string, addr int) (*Prologix, error) {
	logrus.WithFields(logrus.Fields{
		"port": serialPort,
		"addr": addr,
	}).Debug("opening prologix controller")

	port, err := vcp.NewVCP(serialPort)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", serialPort)
	}

	ctrl, err := prologix.NewController(port, addr, false)
	if err != nil {
		_ = port.Close()
		return nil, pkgerrors.Wrapf(err, "failed to create prologix controller on %s", serialPort)
	}

	return &Prologix{
		port: port,
		ctrl: ctrl,
		addr: addr,
	}, nil
}

// Close closes the serial port.
func (p *Prologix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.port.Close()
}

// Write sends cmd to the instrument at addr.
func (p *Prologix) Write(addr int, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.address(addr); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"addr": addr,
		"cmd":  cmd,
	}).Trace("bus write")

	if err := p.ctrl.Command("%s", cmd); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %q to address %d", cmd, addr)
	}

	return nil
}

// Query sends cmd to the instrument at addr and returns its response.
func (p *Prologix) Query(addr int, cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.address(addr); err != nil {
		return "", err
	}

	resp, err := p.ctrl.Query(cmd)
	if err != nil && err != io.EOF {
		return "", pkgerrors.Wrapf(err, "failed to query %q from address %d", cmd, addr)
	}
	resp = strings.TrimRight(resp, "\r\n")

	logrus.WithFields(logrus.Fields{
		"addr": addr,
		"cmd":  cmd,
		"resp": resp,
	}).Trace("bus query")

	return resp, nil
}

// ReadLine reads the pending response of the instrument at addr.
func (p *Prologix) ReadLine(addr int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.address(addr); err != nil {
		return "", err
	}
	if err := p.directive("read eoi"); err != nil {
		return "", err
	}

	line, err := readLine(p.port)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to read from address %d", addr)
	}

	logrus.WithFields(logrus.Fields{
		"addr": addr,
		"resp": line,
	}).Trace("bus read")

	return line, nil
}

// SerialPoll returns the status byte of the instrument at addr.
func (p *Prologix) SerialPoll(addr int) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.address(addr); err != nil {
		return 0, err
	}

	logrus.WithField("directive", "spoll").Trace("prologix directive")
	resp, err := p.ctrl.QueryController("spoll")
	if err != nil && (err != io.EOF || resp == "") {
		return 0, pkgerrors.Wrapf(err, "failed to serial poll address %d", addr)
	}

	return parseStatusByte(resp)
}

// Clear sends Selected Device Clear to the instrument at addr.
func (p *Prologix) Clear(addr int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.address(addr); err != nil {
		return err
	}

	return p.ctrl.ClearDevice()
}

// address points the controller at addr. Must be called with mu held.
func (p *Prologix) address(addr int) error {
	if addr == p.addr {
		return nil
	}
	logrus.WithField("addr", addr).Trace("prologix readdress")
	if err := p.ctrl.SetInstrumentAddress(addr); err != nil {
		return pkgerrors.Wrapf(err, "failed to address %d", addr)
	}
	p.addr = addr
	return nil
}

// directive sends a ++ command to the controller itself.
func (p *Prologix) directive(d string) error {
	logrus.WithField("directive", d).Trace("prologix directive")

	if err := p.ctrl.CommandController(d); err != nil {
		return pkgerrors.Wrapf(err, "failed to send ++%s to controller", d)
	}
	return nil
}

// readLine reads byte by byte so nothing past the terminator is consumed
// from the port. prologix.Controller.Query wraps the port in a fresh
// bufio.Reader on every call and would drop whatever it read ahead.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for sb.Len() < maxLineLength {
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimRight(sb.String(), "\r"), nil
			}
			sb.WriteByte(buf[0])
			continue
		}
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return strings.TrimRight(sb.String(), "\r"), nil
			}
			return "", err
		}
	}
	return "", fmt.Errorf("response exceeds %d bytes", maxLineLength)
}

func parseStatusByte(s string) (byte, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "invalid status byte %q", s)
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("status byte out of range: %d", v)
	}
	return byte(v), nil
}
