package instrument

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/bus"
)

// Status byte bits shared by the HP 3245A and HP 3458A.
const (
	statusReady byte = 0x10
	statusError byte = 0x20
	statusData  byte = 0x80
)

const (
	noError        = `0,"NO ERROR"`
	maxErrorDrain  = 32
	maxPollBackoff = 3 * time.Second
	resetTimeout   = 20 * time.Second
	defaultTimeout = 10 * time.Second
)

// gpibDevice implements the status-byte handshake common to HP instruments
// of this generation.
type gpibDevice struct {
	bus  bus.Bus
	addr int
	id   string

	now   func() time.Time
	sleep func(time.Duration)
}

func newGPIBDevice(b bus.Bus, addr int) gpibDevice {
	return gpibDevice{
		bus:   b,
		addr:  addr,
		id:    fmt.Sprintf("GPIB%d", addr),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

func (d *gpibDevice) Name() string {
	return d.id
}

func (d *gpibDevice) Write(cmd string) error {
	return d.bus.Write(d.addr, cmd)
}

func (d *gpibDevice) ask(cmd string) (string, error) {
	resp, err := d.bus.Query(d.addr, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (d *gpibDevice) WaitForCompletion(timeout time.Duration) error {
	return d.waitStatus(statusReady, timeout, "command completion")
}

func (d *gpibDevice) WaitForData(timeout time.Duration) error {
	return d.waitStatus(statusData, timeout, "data")
}

// waitStatus polls the status byte with exponential back-off until any of
// bits is set.
func (d *gpibDevice) waitStatus(bits byte, timeout time.Duration, what string) error {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	log := logrus.WithFields(logrus.Fields{
		"instrument": d.id,
		"bits":       fmt.Sprintf("%#02x", bits),
	})
	log.Trace("waiting for status")

	deadline := d.now().Add(timeout)
	backoff := time.Millisecond
	last := -1
	for d.now().Before(deadline) {
		sb, err := d.bus.SerialPoll(d.addr)
		if err != nil {
			return err
		}
		if int(sb) != last {
			log.WithField("status", fmt.Sprintf("%#02x", sb)).Trace("status changed")
			last = int(sb)
		}
		if sb&bits != 0 {
			return nil
		}
		d.sleep(backoff)
		if backoff < maxPollBackoff {
			backoff += backoff
		}
	}

	return pkgerrors.Wrapf(ErrTimeout, "%s: waiting for %s (%s)", d.id, what, timeout)
}

// QueryErrorFlag drains the error queue when the status byte says errors
// are pending. The error bit is only meaningful once the last command has
// finished, so it waits for ready first.
func (d *gpibDevice) QueryErrorFlag() error {
	if err := d.WaitForCompletion(defaultTimeout); err != nil {
		return err
	}
	sb, err := d.bus.SerialPoll(d.addr)
	if err != nil {
		return err
	}
	if sb&statusError == 0 {
		return nil
	}

	rerr := &ReportedError{Instrument: d.id}
	for i := 0; i < maxErrorDrain; i++ {
		msg, err := d.ask("ERRSTR?")
		if err != nil {
			return err
		}
		if msg == noError {
			break
		}
		logrus.WithField("instrument", d.id).Error(msg)
		rerr.Messages = append(rerr.Messages, msg)
	}

	return rerr
}

// identify checks the ID? response and adopts it as the instrument name.
func (d *gpibDevice) identify(expected string) error {
	id, err := d.ask("ID?")
	if err != nil {
		return err
	}
	if id != expected {
		return pkgerrors.Wrapf(ErrIdentity, "address %d: want %s, got %q", d.addr, expected, id)
	}
	d.id = id
	return nil
}

// handshake runs the power-up handshake shared by both drivers.
func (d *gpibDevice) handshake(expected string) error {
	for _, cmd := range []string{"END ALWAYS", "INBUF ON"} {
		if err := d.Write(cmd); err != nil {
			return err
		}
	}
	if err := d.WaitForCompletion(defaultTimeout); err != nil {
		return err
	}
	// Errors left over from a previous session are reported and discarded.
	if err := d.QueryErrorFlag(); err != nil {
		logrus.WithError(err).Warn("discarding stale instrument errors")
	}
	if err := d.identify(expected); err != nil {
		return err
	}
	return d.QueryErrorFlag()
}
