package main

import (
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	daemonutils "github.com/charlie0129/hp3245cal/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install the daemon as a systemd service",
		GroupID: gInstallation,
		Long: `Install the hp3245cal daemon as a systemd service.

This makes the daemon start on boot with the current config file, which is
written out with its defaults if it does not exist yet. You must run this
command as root.

By default only root may talk to the daemon. --allow-non-root-access lets any
local user submit runs and acknowledge prompts without sudo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			// A missing file loads as defaults, save them so the daemon
			// starts from an editable file.
			if err := conf.Save(); err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			absConfig, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			err = daemonutils.Install(daemonutils.InstallOptions{
				ConfigPath:         absConfig,
				SocketPath:         unixSocketPath,
				AllowNonRootAccess: allowNonRootAccess,
			})
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %w", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()
			cmd.Printf("systemd will use the current binary (%s), so do not move it. Run 'hp3245cal install' again if you do.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access the daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Stop and remove the systemd service",
		GroupID: gInstallation,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := daemonutils.Uninstall(); err != nil {
				return fmt.Errorf("failed to uninstall daemon: %w", err)
			}
			cmd.Println("Uninstalled. The config file and reports are kept.")
			return nil
		},
	}
}
