package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/hp3245cal/pkg/client"
	"github.com/charlie0129/hp3245cal/pkg/protocol"
	"github.com/charlie0129/hp3245cal/pkg/service"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/hp3245cal.sock"
	configPath     = "/etc/hp3245cal.yaml"
	serialPort     = ""
	dryRun         = false
)

var (
	gBench        = "Bench:"
	gDaemon       = "Daemon:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBench,
		gDaemon,
		gInstallation,
	}
)

// usageError marks errors caused by the command line itself. They exit
// with status 2.
type usageError struct {
	error
}

func (e usageError) Unwrap() error { return e.error }

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return usageError{fmt.Errorf("failed to parse log level: %v", err)}
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	var pe *protocol.Error

	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: hp3245cal daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'hp3245cal daemon' or drop '--remote' to drive the bench directly.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with '--allow-non-root-access'")
	case errors.As(err, &pe):
		fmt.Fprintf(os.Stderr, "\nInstrument %s failed during %s of %q.\n", pe.Instrument, pe.Op, pe.Command)
		fmt.Fprintln(os.Stderr, "The run was aborted. Check the GPIB cabling and the instrument front panel, then start over.")
	case errors.Is(err, service.ErrInvalidChannel):
		fmt.Fprintln(os.Stderr, "\nValid channels: a (0), b (100), 0, 1, 100, 101.")
	case errors.Is(err, service.ErrUnknownProcedure):
		fmt.Fprintf(os.Stderr, "\nValid procedures: %s.\n", strings.Join(service.DefaultProcedures, ", "))
	}
}

func exitCode(err error) int {
	var ue usageError
	var ce *service.ConfigurationError
	if errors.As(err, &ue) || errors.As(err, &ce) {
		return 2
	}
	return 1
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(exitCode(err))
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hp3245cal",
		Short: "hp3245cal calibrates and verifies an HP 3245A against an HP 3458A",
		Long: `hp3245cal calibrates and verifies an HP 3245A universal source against an
HP 3458A multimeter over a Prologix GPIB-USB controller.

Runs either drive the bench directly from this terminal, or are submitted with
--remote to a running 'hp3245cal daemon', whose cable prompts are then
acknowledged with 'hp3245cal confirm'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (.json or .yaml)")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "daemon unix socket path")
	globalFlags.StringVar(&serialPort, "serial-port", "", "Prologix serial port, overrides the config file")
	globalFlags.BoolVar(&dryRun, "dry-run", false, "use simulated instruments instead of the GPIB bus")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewCalibrateCommand(),
		NewVerifyCommand(),
		NewSelfTestCommand(),
		NewACalCommand(),
		NewRunCommand(),
		NewDaemonCommand(),
		NewStatusCommand(),
		NewConfirmCommand(),
		NewSkipACalCommand(),
		NewWatchCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
		NewVersionCommand(),
	)

	return cmd
}
