// Package daemon installs the hp3245cal daemon as a systemd service.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	unitName = "hp3245cal.service"
	unitDir  = "/etc/systemd/system"

	// systemctl runs systemctl with args.
	systemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

const unitTemplate = `[Unit]
Description=HP 3245A calibration bench daemon
After=network.target

[Service]
Type=simple
ExecStart=@EXEC_START@
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// InstallOptions is what the unit passes to 'hp3245cal daemon'.
type InstallOptions struct {
	ConfigPath         string
	SocketPath         string
	AllowNonRootAccess bool
}

func unitPath() string {
	return filepath.Join(unitDir, unitName)
}

func unit(exePath string, o InstallOptions) string {
	args := []string{exePath, "daemon", "--config", o.ConfigPath, "--daemon-socket", o.SocketPath}
	if o.AllowNonRootAccess {
		args = append(args, "--allow-non-root-access")
	}
	return strings.ReplaceAll(unitTemplate, "@EXEC_START@", strings.Join(args, " "))
}

func Install(o InstallOptions) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	err = os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath())
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath())
	}

	logrus.Infof("writing systemd unit to %s", unitPath())
	err = os.WriteFile(unitPath(), []byte(unit(exePath, o)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath(), err)
	}

	logrus.Infof("starting hp3245cal")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}
