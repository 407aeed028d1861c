package main

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/bus"
	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/config"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/service"
)

// dryRunReading is what the simulated meter reads back. It sits inside the
// 1 V checks, so a dry run shows both verdicts.
const dryRunReading = 1.0

var (
	terminalMu sync.Mutex
	// terminal owns the buffered stdin reader. Every session of a process
	// reads through it so no acknowledgment is left in a dropped buffer.
	terminal *cable.Terminal
)

// newConfirmer acknowledges cable prompts for runs driven from this terminal.
var newConfirmer = func(out io.Writer) cable.Confirmer {
	terminalMu.Lock()
	defer terminalMu.Unlock()
	if terminal == nil {
		terminal = cable.NewTerminal(os.Stdin, out)
	}
	return terminal.To(out)
}

// bench is an open pair of instruments plus the configuration they were
// opened with.
type bench struct {
	conf config.Config
	dut  instrument.DUT
	dvm  instrument.DVM
	bus  bus.Bus
}

func loadConfig() (config.Config, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}
	if serialPort != "" {
		conf.SetSerialPort(serialPort)
	}
	return conf, nil
}

// openBench connects to both instruments, or to simulated ones with
// --dry-run.
func openBench() (*bench, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logrus.WithFields(conf.LogrusFields()).Debug("config loaded")

	if dryRun {
		logrus.Warn("dry run, no instrument is touched")
		return &bench{
			conf: conf,
			dut:  instrument.NewMock("HP3245A", 0),
			dvm:  instrument.NewMock("HP3458A", dryRunReading),
		}, nil
	}

	b, err := bus.Open(conf.SerialPort(), conf.DUTAddress())
	if err != nil {
		return nil, err
	}
	dut, err := instrument.NewHP3245A(b, conf.DUTAddress())
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	dvm, err := instrument.NewHP3458A(b, conf.DVMAddress())
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	return &bench{
		conf: conf,
		dut:  dut,
		dvm:  dvm,
		bus:  b,
	}, nil
}

func (b *bench) Close() error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Close()
}

func (b *bench) session(ch service.Channel, out io.Writer) (*service.Session, error) {
	return service.NewSession(service.Options{
		Channel:   ch,
		DUT:       b.dut,
		DVM:       b.dvm,
		Confirmer: newConfirmer(out),
		Console:   out,
		ReportDir: b.conf.ReportDir(),
		Timeouts: service.Timeouts{
			Command:  b.conf.CommandTimeout(),
			Read:     b.conf.ReadTimeout(),
			SlowRead: b.conf.SlowReadThreshold(),
			Commit:   b.conf.CommitTimeout(),
		},
	})
}
