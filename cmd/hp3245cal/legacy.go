package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charlie0129/hp3245cal/pkg/service"
)

// action is one bench run selected by a legacy token.
type action struct {
	token   string
	channel service.Channel
	run     func(b *bench, ch service.Channel, out io.Writer) error
}

var legacyActions = map[string]func(token string) action{
	"-cal_a":   calibrateAction(service.FrontA),
	"-cal_b":   calibrateAction(service.FrontB),
	"-check_a": verifyAction(service.FrontA),
	"-check_b": verifyAction(service.FrontB),
}

func calibrateAction(ch service.Channel) func(string) action {
	return func(token string) action {
		return action{token: token, channel: ch, run: func(b *bench, ch service.Channel, out io.Writer) error {
			return calibrate(b, ch, 0, out)
		}}
	}
}

func verifyAction(ch service.Channel) func(string) action {
	return func(token string) action {
		return action{token: token, channel: ch, run: func(b *bench, ch service.Channel, out io.Writer) error {
			return verify(b, ch, nil, out)
		}}
	}
}

func legacyTokens() []string {
	return []string{"-cal_a", "-cal_b", "-check_a", "-check_b"}
}

// parseLegacy maps every token to its action. Nothing runs unless all tokens
// are known.
func parseLegacy(args []string) ([]action, error) {
	actions := make([]action, 0, len(args))
	for _, a := range args {
		// flag parsing is off for the dash tokens
		if a == "--dry-run" {
			dryRun = true
			continue
		}
		mk, ok := legacyActions[a]
		if !ok {
			return nil, usageError{fmt.Errorf("unknown action %q, expected any of %s", a, strings.Join(legacyTokens(), " "))}
		}
		actions = append(actions, mk(a))
	}
	if len(actions) == 0 {
		return nil, usageError{fmt.Errorf("no action given, expected any of %s", strings.Join(legacyTokens(), " "))}
	}
	return actions, nil
}

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "run -cal_a|-cal_b|-check_a|-check_b ...",
		Short:   "Run calibrations and verifications in sequence",
		GroupID: gBench,
		Long: `Run bench actions in the order given, stopping at the first failure.

  -cal_a    calibrate output A
  -cal_b    calibrate output B
  -check_a  verify output A
  -check_b  verify output B

Global flags are not parsed here, except --dry-run.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseLegacy(args)
			if err != nil {
				return err
			}
			return withBench(func(b *bench) error {
				for _, a := range actions {
					if err := a.run(b, a.channel, cmd.OutOrStdout()); err != nil {
						return fmt.Errorf("%s: %w", a.token, err)
					}
				}
				return nil
			})
		},
	}
}
