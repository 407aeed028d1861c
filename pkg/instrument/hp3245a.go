package instrument

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/bus"
)

// DefaultHP3245AAddress is the factory GPIB address of the HP 3245A.
const DefaultHP3245AAddress = 9

var (
	_ DUT        = &HP3245A{}
	_ SelfTester = &HP3245A{}
)

// HP3245A is the HP 3245A universal source.
type HP3245A struct {
	gpibDevice
}

// NewHP3245A identifies the source at addr and prepares it for remote use.
func NewHP3245A(b bus.Bus, addr int) (*HP3245A, error) {
	d := &HP3245A{gpibDevice: newGPIBDevice(b, addr)}
	if err := d.handshake("HP3245"); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset performs a full instrument reset. Channel-scoped resets are issued
// by the sequencers as "RESET <channel>".
func (d *HP3245A) Reset() error {
	logrus.WithField("instrument", d.id).Debug("resetting")

	if err := d.Write("RESET"); err != nil {
		return err
	}
	if err := d.WaitForCompletion(resetTimeout); err != nil {
		return err
	}
	for _, cmd := range []string{"END ALWAYS", "INBUF ON"} {
		if err := d.Write(cmd); err != nil {
			return err
		}
	}
	return d.QueryErrorFlag()
}

// FTest runs the built-in functional test on one output connector and
// returns the instrument's verdict string.
func (d *HP3245A) FTest(output int) (string, error) {
	if err := d.Write(fmt.Sprintf("FTEST %d", output)); err != nil {
		return "", err
	}
	if err := d.WaitForCompletion(resetTimeout); err != nil {
		return "", err
	}
	return d.bus.ReadLine(d.addr)
}
