package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/client"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/service"
	"github.com/charlie0129/hp3245cal/pkg/version"
)

func phaseText(p calibration.Phase) string {
	switch p {
	case calibration.PhaseDone:
		return color.GreenString(string(p))
	case calibration.PhaseError:
		return color.RedString(string(p))
	case calibration.PhaseWaiting:
		return color.YellowString(string(p))
	}
	return string(p)
}

func printStatus(out io.Writer, st *calibration.Status) {
	fmt.Fprintln(out, bold("Run:"))
	fmt.Fprintf(out, "  Phase: %s\n", phaseText(st.Phase))
	if st.ID != "" {
		fmt.Fprintf(out, "  ID: %s\n", st.ID)
		fmt.Fprintf(out, "  Procedure: %s\n", bold("%s", st.Procedure))
		if st.Procedure == calibration.ProcedureCalibrate || st.Procedure == calibration.ProcedureVerify {
			fmt.Fprintf(out, "  Channel: %s\n", service.Channel(st.Channel))
		}
		fmt.Fprintf(out, "  Started: %s\n", st.StartedAt.Local().Format(time.DateTime))
		if !st.FinishedAt.IsZero() {
			fmt.Fprintf(out, "  Finished: %s\n", st.FinishedAt.Local().Format(time.DateTime))
		}
	}
	switch st.Procedure {
	case calibration.ProcedureCalibrate:
		fmt.Fprintf(out, "  Step: %s\n", bold("%d/%d", st.Step, service.CalibrationSteps))
	case calibration.ProcedureVerify:
		fmt.Fprintf(out, "  Checks: %s passed, %s failed\n",
			color.GreenString("%d", st.Summary.Passed), color.RedString("%d", st.Summary.Failed))
	}
	if st.Prompt != "" {
		fmt.Fprintf(out, "  Waiting for: %s\n", bold("%s", st.Prompt))
	}
	if st.LastError != "" {
		fmt.Fprintf(out, "  Error: %s\n", color.RedString(st.LastError))
	}
	if st.Report != "" {
		fmt.Fprintf(out, "  Report: %s\n", st.Report)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, bold("Auto-calibration:"))
	if st.NextACal.IsZero() {
		fmt.Fprintln(out, "  Next: not scheduled")
	} else {
		fmt.Fprintf(out, "  Next: %s\n", bold("%s", st.NextACal.Local().Format(time.DateTime)))
	}
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gDaemon,
		Short:   "Get the status of the daemon's current or last run",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient().GetStatus()
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func NewSkipACalCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "skip-acal",
		GroupID: gDaemon,
		Short:   "Skip the next scheduled auto-calibration",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			next, err := apiClient().SkipACal()
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("no auto-calibration is scheduled: %w", err)
				}
				return err
			}
			cmd.Printf("Next auto-calibration: %s\n", bold("%s", next.Local().Format(time.DateTime)))
			return nil
		},
	}
}

func NewConfirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "confirm",
		GroupID: gDaemon,
		Short:   "Acknowledge the cable prompt the daemon is waiting on",
		Long: `Acknowledge the cable prompt the daemon is waiting on.

The prompt is shown first. Make the connection it asks for before confirming.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient()
			p, err := c.GetPrompt()
			if err != nil {
				return err
			}
			if p == "" {
				return errors.New("the daemon is not waiting for the operator")
			}
			// Echo the prompt back so a prompt that changed in the meantime
			// is not acknowledged by mistake.
			if err := c.Confirm(p); err != nil {
				if errors.Is(err, client.ErrConflict) {
					return fmt.Errorf("the prompt changed, check 'hp3245cal status': %w", err)
				}
				return err
			}
			cmd.Printf("Confirmed: %s\n", bold("%s", p))
			return nil
		},
	}
}

// formatEvent renders one daemon event as a console line, or "" to skip it.
func formatEvent(e events.Event) string {
	switch e.Name {
	case events.RunPhase:
		v, err := events.DecodeAs[events.RunPhaseEvent](e)
		if err != nil {
			return ""
		}
		line := fmt.Sprintf("%s %s on %s: %s -> %s", bold("run"), v.Procedure, service.Channel(v.Channel), v.From, phaseText(calibration.Phase(v.To)))
		if v.Message != "" {
			line += ": " + v.Message
		}
		return line
	case events.CalibrationStep:
		v, err := events.DecodeAs[events.CalibrationStepEvent](e)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("%2d %13.9f", v.Step, v.Reading)
	case events.ReportHeader:
		v, err := events.DecodeAs[events.ReportHeaderEvent](e)
		if err != nil {
			return ""
		}
		return "\n" + bold("%s", v.Title)
	case events.VerificationCheck:
		v, err := events.DecodeAs[events.VerificationResultEvent](e)
		if err != nil {
			return ""
		}
		return v.Line
	case events.OperatorPrompt:
		v, err := events.DecodeAs[events.OperatorPromptEvent](e)
		if err != nil {
			return ""
		}
		return color.YellowString("%s", v.Prompt) + " (run 'hp3245cal confirm')"
	case events.SlowRead:
		v, err := events.DecodeAs[events.SlowReadEvent](e)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("waiting for %s for %.0f s", v.Instrument, v.ElapsedSec)
	case events.ACalUpcoming:
		v, err := events.DecodeAs[events.ACalUpcomingEvent](e)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("ACAL %s starts at %s", v.Kind, time.Unix(v.RunAt, 0).Local().Format(time.TimeOnly))
	}
	return ""
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gDaemon,
		Short:   "Follow the daemon's runs until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ch, err := apiClient().SubscribeEvents(ctx)
			if err != nil {
				return err
			}
			for e := range ch {
				if line := formatEvent(e); line != "" {
					cmd.Println(line)
				}
			}
			return nil
		},
	}
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("Client: %s (%s)\n", version.Version, version.GitCommit)
			v, err := apiClient().GetVersion()
			if err != nil {
				cmd.Printf("Daemon: %s\n", color.YellowString("not reachable"))
				return nil
			}
			cmd.Printf("Daemon: %s\n", v)
			return nil
		},
	}
}
