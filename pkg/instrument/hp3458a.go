package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/bus"
)

// DefaultHP3458AAddress is the factory GPIB address of the HP 3458A.
const DefaultHP3458AAddress = 22

// ACalKind selects which section of the HP 3458A auto-calibrates.
type ACalKind string

const (
	ACalDCV  ACalKind = "DCV"
	ACalAC   ACalKind = "AC"
	ACalOhms ACalKind = "OHMS"
	ACalAll  ACalKind = "ALL"
)

// acalTimeouts leave generous margin over the nominal durations
// (165 s, 145 s, 670 s and 1000 s).
var acalTimeouts = map[ACalKind]time.Duration{
	ACalDCV:  200 * time.Second,
	ACalAC:   200 * time.Second,
	ACalOhms: 800 * time.Second,
	ACalAll:  1000 * time.Second,
}

// ParseACalKind accepts dcv, ac, ohms or all in any case.
func ParseACalKind(s string) (ACalKind, error) {
	k := ACalKind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := acalTimeouts[k]; !ok {
		return "", fmt.Errorf("unknown ACAL kind %q (want dcv, ac, ohms or all)", s)
	}
	return k, nil
}

var (
	_ DVM            = &HP3458A{}
	_ AutoCalibrator = &HP3458A{}
)

// HP3458A is the HP 3458A 8.5 digit multimeter.
type HP3458A struct {
	gpibDevice
}

// NewHP3458A identifies the multimeter at addr and prepares it for remote use.
func NewHP3458A(b bus.Bus, addr int) (*HP3458A, error) {
	d := &HP3458A{gpibDevice: newGPIBDevice(b, addr)}
	if err := d.handshake("HP3458A"); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset presets the meter and holds the trigger so readings are only taken
// on request.
func (d *HP3458A) Reset() error {
	logrus.WithField("instrument", d.id).Debug("resetting")

	if err := d.Write("PRESET NORM"); err != nil {
		return err
	}
	if err := d.WaitForCompletion(resetTimeout); err != nil {
		return err
	}
	for _, cmd := range []string{"TRIG HOLD", "INBUF ON"} {
		if err := d.Write(cmd); err != nil {
			return err
		}
	}
	return d.QueryErrorFlag()
}

// Read fetches and parses one pending reading.
func (d *HP3458A) Read() (float64, error) {
	line, err := d.bus.ReadLine(d.addr)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "%s: invalid reading %q", d.id, line)
	}
	return v, nil
}

// ACal runs an internal auto-calibration and blocks until it finishes.
func (d *HP3458A) ACal(kind ACalKind) error {
	timeout, ok := acalTimeouts[kind]
	if !ok {
		return fmt.Errorf("unknown ACAL kind %q", kind)
	}

	log := logrus.WithFields(logrus.Fields{
		"instrument": d.id,
		"kind":       kind,
		"timeout":    timeout,
	})
	log.Info("auto-calibration started")

	start := d.now()
	if err := d.Write("ACAL " + string(kind)); err != nil {
		return err
	}
	if err := d.WaitForCompletion(timeout); err != nil {
		return err
	}
	if err := d.QueryErrorFlag(); err != nil {
		return err
	}

	log.WithField("duration", d.now().Sub(start).Round(100*time.Millisecond)).Info("auto-calibration finished")
	return nil
}
