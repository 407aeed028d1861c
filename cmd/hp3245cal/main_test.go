package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/protocol"
	"github.com/charlie0129/hp3245cal/pkg/service"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// dryBench points the CLI at a fresh config and report directory and
// acknowledges every cable prompt.
func dryBench(t *testing.T) (reportDir string, prompts *[]string) {
	t.Helper()

	dir := t.TempDir()
	reportDir = filepath.Join(dir, "reports")
	conf := filepath.Join(dir, "hp3245cal.yaml")
	require.NoError(t, os.WriteFile(conf, []byte(fmt.Sprintf("reportDir: %s\n", reportDir)), 0644))

	var seen []string
	old := newConfirmer
	newConfirmer = func(_ io.Writer) cable.Confirmer {
		return cable.ConfirmFunc(func(p string) error {
			seen = append(seen, p)
			return nil
		})
	}
	t.Cleanup(func() {
		newConfirmer = old
		dryRun = false
	})

	configPath = conf
	return reportDir, &seen
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseLegacy(t *testing.T) {
	t.Cleanup(func() { dryRun = false })

	actions, err := parseLegacy([]string{"-check_b", "-cal_a", "--dry-run", "-check_a"})
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "-check_b", actions[0].token)
	assert.Equal(t, service.FrontB, actions[0].channel)
	assert.Equal(t, service.FrontA, actions[1].channel)
	assert.Equal(t, "-check_a", actions[2].token)
	assert.True(t, dryRun)
}

func TestParseLegacyRejectsUnknownToken(t *testing.T) {
	_, err := parseLegacy([]string{"-cal_a", "-cal_c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"-cal_c"`)
	assert.Equal(t, 2, exitCode(err))

	_, err = parseLegacy(nil)
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(usageError{errors.New("bad flag")}))

	_, err := service.ParseChannel("c")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", err)))

	pe := &protocol.Error{Instrument: "HP3245A", Op: protocol.OpComplete, Command: "RESET 0", Err: instrument.ErrTimeout}
	assert.Equal(t, 1, exitCode(pe))
}

func TestRunUnknownTokenTouchesNothing(t *testing.T) {
	_, prompts := dryBench(t)

	_, err := execute(t, "run", "-cal_a", "-bogus")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Empty(t, *prompts)
}

func TestDryRunCalibrate(t *testing.T) {
	_, prompts := dryBench(t)

	out, err := execute(t, "--dry-run", "calibrate", "b")
	require.NoError(t, err)

	assert.Contains(t, out, " 1   1.000000000\n")
	assert.Contains(t, out, "71   1.000000000\n")
	assert.Contains(t, out, "71 steps stored")
	assert.Equal(t, []string{
		"Front Out-B -> DVM Voltage input",
		"Front Out-B -> DVM Current input",
	}, *prompts)
}

func TestDryRunVerifyWritesReport(t *testing.T) {
	reportDir, prompts := dryBench(t)

	out, err := execute(t, "--dry-run", "verify", "a", "--only", "dci")
	require.NoError(t, err)
	assert.Equal(t, []string{"Front Out-A -> DVM Current input"}, *prompts)

	b, err := os.ReadFile(filepath.Join(reportDir, "_hp3245_operational_verification_0.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, b)
	assert.Contains(t, out, string(b))
	assert.Contains(t, out, "Report written to")
}

func TestDryRunLegacySequence(t *testing.T) {
	reportDir, _ := dryBench(t)

	out, err := execute(t, "run", "--dry-run", "-check_b", "-check_a")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "Report written to"))
	assert.FileExists(t, filepath.Join(reportDir, "_hp3245_operational_verification_0.txt"))
	assert.FileExists(t, filepath.Join(reportDir, "_hp3245_operational_verification_100.txt"))
	assert.Less(t, strings.Index(out, "_100.txt"), strings.Index(out, "_0.txt"))
}

func TestVerifyInvalidChannel(t *testing.T) {
	dryBench(t)

	_, err := execute(t, "--dry-run", "verify", "7")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrInvalidChannel)
	assert.Equal(t, 2, exitCode(err))
}

func TestDryRunSelfTest(t *testing.T) {
	_, prompts := dryBench(t)

	out, err := execute(t, "--dry-run", "selftest")
	require.NoError(t, err)
	assert.Len(t, *prompts, 4)
	assert.Contains(t, out, "Front Out-A: PASS")
}

func TestFormatEvent(t *testing.T) {
	ev := func(name string, v any) events.Event {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return events.Event{Name: name, Data: b}
	}

	assert.Equal(t, " 3   1.250000000", formatEvent(ev(events.CalibrationStep, events.CalibrationStepEvent{Step: 3, Reading: 1.25})))
	assert.Equal(t, "line", formatEvent(ev(events.VerificationCheck, events.VerificationResultEvent{Line: "line"})))
	assert.Contains(t, formatEvent(ev(events.OperatorPrompt, events.OperatorPromptEvent{Prompt: "Back Out-A -> DVM Voltage input"})), "hp3245cal confirm")
	assert.Equal(t, "\nOffset", formatEvent(ev(events.ReportHeader, events.ReportHeaderEvent{Title: "Offset"})))
	assert.Contains(t, formatEvent(ev(events.RunPhase, events.RunPhaseEvent{Procedure: "verify", Channel: 101, From: "Running", To: "Done"})), "Back Out-B")
	assert.Empty(t, formatEvent(events.Event{Name: "unknown"}))
}

func TestConfirmersShareStdin(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = io.WriteString(w, "\n\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	oldStdin := os.Stdin
	os.Stdin = r
	terminalMu.Lock()
	terminal = nil
	terminalMu.Unlock()
	t.Cleanup(func() {
		os.Stdin = oldStdin
		_ = r.Close()
		terminalMu.Lock()
		terminal = nil
		terminalMu.Unlock()
	})

	// Two sessions of one legacy run, e.g. "calibrate verify".
	var out bytes.Buffer
	require.NoError(t, newConfirmer(&out).Confirm("Front Out-A -> DVM Voltage input"))
	require.NoError(t, newConfirmer(&out).Confirm("Front Out-A -> DVM Current input"))
	assert.Equal(t, "Front Out-A -> DVM Voltage input\nFront Out-A -> DVM Current input\n", out.String())
}

func TestSkipACalCommand(t *testing.T) {
	next := time.Date(2026, 10, 18, 3, 0, 0, 0, time.Local)
	scheduled := true
	mux := http.NewServeMux()
	mux.HandleFunc("POST /acal/skip", func(w http.ResponseWriter, _ *http.Request) {
		if !scheduled {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `"no active schedule to skip"`)
			return
		}
		_ = json.NewEncoder(w).Encode(next)
	})
	sock := filepath.Join(t.TempDir(), "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener = l
	srv.Start()
	old := unixSocketPath
	t.Cleanup(func() {
		srv.Close()
		unixSocketPath = old
	})

	out, err := execute(t, "--daemon-socket", sock, "skip-acal")
	require.NoError(t, err)
	assert.Contains(t, out, "Next auto-calibration: 2026-10-18 03:00:00")

	scheduled = false
	_, err = execute(t, "--daemon-socket", sock, "skip-acal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auto-calibration is scheduled")
}
