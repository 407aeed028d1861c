package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/service"
)

var (
	// remote submits runs to the daemon instead of driving the bench.
	remote = false
)

// submit hands req to the daemon and tells the operator how to follow it.
func submit(out io.Writer, req calibration.RunRequest) error {
	st, err := apiClient().StartRun(req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Started %s run %s.\n", bold("%s", st.Procedure), st.ID)
	fmt.Fprintln(out, "Follow it with 'hp3245cal watch' and acknowledge cable prompts with 'hp3245cal confirm'.")
	return nil
}

// withBench opens the bench, runs fn and closes the bench again.
func withBench(fn func(b *bench) error) error {
	b, err := openBench()
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close bus")
		}
	}()
	return fn(b)
}

func parseChannelArg(args []string) (service.Channel, error) {
	if len(args) != 1 {
		return 0, usageError{fmt.Errorf("expected exactly one channel, got %d", len(args))}
	}
	return service.ParseChannel(args[0])
}

func calibrate(b *bench, ch service.Channel, code int, out io.Writer) error {
	s, err := b.session(ch, out)
	if err != nil {
		return err
	}
	if code == 0 {
		code = b.conf.CalibrationCode()
	}
	records, err := s.Calibrate(code)
	if err != nil {
		return fmt.Errorf("calibration of %s stopped after %d steps: %w", ch, len(records), err)
	}
	fmt.Fprintf(out, "\nCalibration of %s %s: %d steps stored.\n", ch, color.GreenString("complete"), len(records))
	return nil
}

func verify(b *bench, ch service.Channel, only []string, out io.Writer) error {
	s, err := b.session(ch, out)
	if err != nil {
		return err
	}
	v, err := s.Verify(only...)
	if err != nil {
		return err
	}
	printSummary(out, v)
	return nil
}

func printSummary(out io.Writer, v *service.Verification) {
	failed := fmt.Sprint(v.Summary.Failed)
	if v.Summary.Failed > 0 {
		failed = color.RedString(failed)
	}
	fmt.Fprintf(out, "\n%s checks passed, %s failed. Report written to %s.\n",
		color.GreenString("%d", v.Summary.Passed), failed, bold("%s", v.Report))
}

func selfTest(b *bench, out io.Writer) error {
	st, ok := b.dut.(instrument.SelfTester)
	if !ok {
		return fmt.Errorf("%s cannot run a functional test", b.dut.Name())
	}
	results, err := service.SelfTest(st, newConfirmer(out), out)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(out, "%-12s %s\n", r.Channel.Label()+":", bool2Text(r.Passed()))
	}
	return nil
}

func acal(b *bench, kind string, out io.Writer) error {
	if kind == "" {
		kind = b.conf.ACalKind()
	}
	k, err := instrument.ParseACalKind(kind)
	if err != nil {
		return usageError{err}
	}
	ac, ok := b.dvm.(instrument.AutoCalibrator)
	if !ok {
		return fmt.Errorf("%s cannot auto-calibrate", b.dvm.Name())
	}
	fmt.Fprintf(out, "Running ACAL %s on %s, this takes several minutes.\n", k, b.dvm.Name())
	if err := ac.ACal(k); err != nil {
		return err
	}
	fmt.Fprintf(out, "ACAL %s %s.\n", k, color.GreenString("complete"))
	return nil
}

func NewCalibrateCommand() *cobra.Command {
	code := 0

	cmd := &cobra.Command{
		Use:     "calibrate <channel>",
		Short:   "Calibrate one output channel",
		GroupID: gBench,
		Long: `Calibrate one output of the HP 3245A against the HP 3458A.

The channel is a (front A, 0), b (front B, 100) or one of 0, 1, 100, 101.
All 71 calibration points are measured and stored; the last point commits
them to non-volatile memory.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannelArg(args)
			if err != nil {
				return err
			}
			if remote {
				return submit(cmd.OutOrStdout(), calibration.RunRequest{
					Procedure: calibration.ProcedureCalibrate,
					Channel:   args[0],
					Code:      code,
				})
			}
			return withBench(func(b *bench) error {
				return calibrate(b, ch, code, cmd.OutOrStdout())
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&code, "code", 0, "calibration security code (default from config)")
	f.BoolVar(&remote, "remote", false, "submit the run to the daemon")

	return cmd
}

func NewVerifyCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:     "verify <channel>",
		Short:   "Run the operational verification of one output channel",
		GroupID: gBench,
		Long: fmt.Sprintf(`Run the operational verification of one output of the HP 3245A.

Each check is printed and written to %s in the
report directory. Procedures: %s.`,
			"_hp3245_operational_verification_<channel>.txt",
			strings.Join(service.DefaultProcedures, ", ")),
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannelArg(args)
			if err != nil {
				return err
			}
			if remote {
				return submit(cmd.OutOrStdout(), calibration.RunRequest{
					Procedure: calibration.ProcedureVerify,
					Channel:   args[0],
					Only:      only,
				})
			}
			return withBench(func(b *bench) error {
				return verify(b, ch, only, cmd.OutOrStdout())
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&only, "only", nil, "run only these procedures, in this order")
	f.BoolVar(&remote, "remote", false, "submit the run to the daemon")

	return cmd
}

func NewSelfTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "selftest",
		Short:   "Run the functional test of every output connector",
		GroupID: gBench,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote {
				return submit(cmd.OutOrStdout(), calibration.RunRequest{
					Procedure: calibration.ProcedureSelfTest,
				})
			}
			return withBench(func(b *bench) error {
				return selfTest(b, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "submit the run to the daemon")

	return cmd
}

func NewACalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "acal [dcv|ac|ohms|all]",
		Short:   "Auto-calibrate the HP 3458A",
		GroupID: gBench,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := ""
			if len(args) == 1 {
				kind = args[0]
			}
			if remote {
				return submit(cmd.OutOrStdout(), calibration.RunRequest{
					Procedure: calibration.ProcedureACal,
					ACalKind:  kind,
				})
			}
			return withBench(func(b *bench) error {
				return acal(b, kind, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "submit the run to the daemon")

	return cmd
}
