package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/hp3245cal/pkg/daemon"
	"github.com/charlie0129/hp3245cal/pkg/version"
)

var (
	// allowNonRootAccess indicates whether to allow non-root users to access the daemon.
	allowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Serve the bench on a unix socket in the foreground",
		GroupID: gDaemon,
		Long: `Serve the bench on a unix socket in the foreground.

Runs are submitted with --remote, followed with 'watch' and their cable prompts
acknowledged with 'confirm'. When acalSchedule is set in the config, the
HP 3458A auto-calibrates on that cron schedule while the bench is idle.
SIGHUP reloads the config.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("hp3245cal daemon starting")

			return withBench(func(b *bench) error {
				d, err := daemon.New(daemon.Options{
					Config: b.conf,
					DUT:    b.dut,
					DVM:    b.dvm,
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return d.Run(ctx, unixSocketPath, allowNonRootAccess)
			})
		},
	}

	f := cmd.Flags()

	f.BoolVar(&allowNonRootAccess, "allow-non-root-access", false,
		"Allow non-root users to access the daemon.")

	return cmd
}
