package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSystemd(t *testing.T) *[]string {
	t.Helper()

	var calls []string
	oldDir, oldCtl := unitDir, systemctl
	unitDir = filepath.Join(t.TempDir(), "system")
	systemctl = func(args ...string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	}
	t.Cleanup(func() {
		unitDir, systemctl = oldDir, oldCtl
	})
	return &calls
}

func TestUnit(t *testing.T) {
	u := unit("/usr/local/bin/hp3245cal", InstallOptions{
		ConfigPath:         "/etc/hp3245cal.yaml",
		SocketPath:         "/var/run/hp3245cal.sock",
		AllowNonRootAccess: true,
	})
	assert.Contains(t, u, "ExecStart=/usr/local/bin/hp3245cal daemon --config /etc/hp3245cal.yaml --daemon-socket /var/run/hp3245cal.sock --allow-non-root-access\n")
	assert.NotContains(t, u, "@")

	u = unit("/bin/x", InstallOptions{ConfigPath: "c", SocketPath: "s"})
	assert.NotContains(t, u, "--allow-non-root-access")
}

func TestInstallUninstall(t *testing.T) {
	calls := fakeSystemd(t)

	require.NoError(t, Install(InstallOptions{ConfigPath: "c.yaml", SocketPath: "s.sock"}))
	b, err := os.ReadFile(unitPath())
	require.NoError(t, err)
	assert.Contains(t, string(b), " daemon --config c.yaml --daemon-socket s.sock\n")

	require.NoError(t, Uninstall())
	assert.NoFileExists(t, unitPath())

	assert.Equal(t, []string{
		"daemon-reload",
		"enable --now hp3245cal.service",
		"disable --now hp3245cal.service",
		"daemon-reload",
	}, *calls)
}

func TestUninstallMissingUnit(t *testing.T) {
	calls := fakeSystemd(t)

	require.NoError(t, Uninstall())
	assert.Equal(t, []string{"disable --now hp3245cal.service"}, *calls)
}
