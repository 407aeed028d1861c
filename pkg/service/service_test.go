package service

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
	"github.com/charlie0129/hp3245cal/pkg/protocol"
	"github.com/charlie0129/hp3245cal/pkg/report"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type recorder struct {
	prompts []string
}

func (r *recorder) Confirm(p string) error {
	r.prompts = append(r.prompts, p)
	return nil
}

type bench struct {
	dut     *instrument.Mock
	dvm     *instrument.Mock
	prompts *recorder
	console *bytes.Buffer
	dir     string
}

func newBench(t *testing.T, reading float64) *bench {
	t.Helper()
	return &bench{
		dut:     instrument.NewMock("HP3245A", 0),
		dvm:     instrument.NewMock("HP3458A", reading),
		prompts: &recorder{},
		console: &bytes.Buffer{},
		dir:     t.TempDir(),
	}
}

func (b *bench) session(t *testing.T, ch Channel, mods ...func(*Options)) *Session {
	t.Helper()
	o := Options{
		Channel:   ch,
		DUT:       b.dut,
		DVM:       b.dvm,
		Confirmer: b.prompts,
		Console:   b.console,
		ReportDir: b.dir,
	}
	for _, m := range mods {
		m(&o)
	}
	s, err := NewSession(o)
	require.NoError(t, err)
	return s
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestNewSessionRejectsInvalidChannel(t *testing.T) {
	b := newBench(t, 0)
	_, err := NewSession(Options{Channel: 2, DUT: b.dut, DVM: b.dvm, Confirmer: b.prompts})

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Empty(t, b.dut.Commands())
	assert.Empty(t, b.dvm.Commands())
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	b := newBench(t, 0)
	_, err := NewSession(Options{Channel: FrontA, DUT: b.dut, DVM: b.dvm})
	assert.Error(t, err)
	_, err = NewSession(Options{Channel: FrontA, DVM: b.dvm, Confirmer: b.prompts})
	assert.Error(t, err)
}

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{
		"a": FrontA, "A": FrontA, "b": FrontB, "0": FrontA, "1": BackA, "100": FrontB, "101": BackB,
	} {
		got, err := ParseChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "c", "2", "-1", "99"} {
		_, err := ParseChannel(in)
		assert.ErrorIs(t, err, ErrInvalidChannel, in)
	}
	assert.Equal(t, "Back Out-B", BackB.Label())
}

func TestCalibrateFixedReading(t *testing.T) {
	b := newBench(t, 1.0)
	s := b.session(t, FrontA)

	records, err := s.Calibrate(DefaultCalibrationCode)
	require.NoError(t, err)

	require.Len(t, records, 71)
	assert.Equal(t, 71, CalibrationSteps)
	for i, r := range records {
		assert.Equal(t, i+1, r.Step)
		assert.Equal(t, "CAL VALUE 1.000000000", r.Command)
	}

	wantDUT := append([]string{"RESET 0", "USE 0", "CAL 3245"}, repeat("CAL VALUE 1.000000000", 71)...)
	if diff := cmp.Diff(wantDUT, b.dut.Commands()); diff != "" {
		t.Errorf("DUT transcript mismatch (-want +got):\n%s", diff)
	}

	var wantDVM []string
	wantDVM = append(wantDVM, "NPLC 100", "NDIG 8")
	wantDVM = append(wantDVM, repeat("T", 44)...)
	wantDVM = append(wantDVM, "RANGE 100", "T", "RANGE AUTO", "T", "T", "DCI")
	wantDVM = append(wantDVM, repeat("T", 24)...)
	if diff := cmp.Diff(wantDVM, b.dvm.Commands()); diff != "" {
		t.Errorf("DVM transcript mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, b.dvm.Resets())

	assert.Equal(t, []string{
		"Front Out-A -> DVM Voltage input",
		"Front Out-A -> DVM Current input",
	}, b.prompts.prompts)
	assert.Equal(t, cable.Current, s.Route())

	lines := strings.Split(strings.TrimRight(b.console.String(), "\n"), "\n")
	require.Len(t, lines, 71)
	assert.Equal(t, " 1   1.000000000", lines[0])
	assert.Equal(t, "71   1.000000000", lines[70])
}

func TestCalibrateAbortsOnFirstFailure(t *testing.T) {
	b := newBench(t, 0)
	b.dvm.SetReadings(func(n int) float64 { return float64(n + 1) })
	b.dut.FailCompletion("CAL VALUE 45.000000000", instrument.ErrTimeout)
	s := b.session(t, FrontB)

	records, err := s.Calibrate(DefaultCalibrationCode)

	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, instrument.ErrTimeout)
	assert.Equal(t, "HP3245A", pe.Instrument)
	assert.Equal(t, protocol.OpComplete, pe.Op)
	assert.Len(t, records, 44)

	// nothing after the failed command
	cmds := b.dut.Commands()
	assert.Equal(t, "CAL VALUE 45.000000000", cmds[len(cmds)-1])
	assert.Len(t, b.prompts.prompts, 1)
}

type timedDUT struct {
	*instrument.Mock
	last     string
	timeouts map[string]time.Duration
}

func (d *timedDUT) Write(cmd string) error {
	d.last = cmd
	return d.Mock.Write(cmd)
}

func (d *timedDUT) WaitForCompletion(timeout time.Duration) error {
	d.timeouts[d.last] = timeout
	return d.Mock.WaitForCompletion(timeout)
}

func TestCalibrateCommitTimeout(t *testing.T) {
	b := newBench(t, 0)
	b.dvm.SetReadings(func(n int) float64 { return float64(n + 1) })
	dut := &timedDUT{Mock: b.dut, timeouts: map[string]time.Duration{}}
	s := b.session(t, BackA, func(o *Options) {
		o.DUT = dut
		o.Timeouts = Timeouts{Command: 3 * time.Second, Commit: 90 * time.Second}
	})

	_, err := s.Calibrate(1234)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, dut.timeouts["CAL 1234"])
	assert.Equal(t, 3*time.Second, dut.timeouts["CAL VALUE 70.000000000"])
	assert.Equal(t, 90*time.Second, dut.timeouts["CAL VALUE 71.000000000"])
	_, pushed := dut.timeouts["CAL VALUE 72.000000000"]
	assert.False(t, pushed, "the commit is the last point sent")
}

func TestVerifyAll(t *testing.T) {
	b := newBench(t, 0)
	s := b.session(t, FrontB)

	var progress []Progress
	s.onProgress = func(p Progress) { progress = append(progress, p) }

	v, err := s.Verify()
	require.NoError(t, err)

	require.Len(t, v.Results, 44)
	assert.Equal(t, 11, v.Summary.Passed)
	assert.Equal(t, 33, v.Summary.Failed)
	assert.Len(t, progress, 44)
	assert.Equal(t, v.Summary, progress[len(progress)-1].Summary)

	assert.Equal(t, []string{
		"Front Out-B -> DVM Voltage input",
		"Front Out-B -> DVM Current input",
	}, b.prompts.prompts)

	assert.Equal(t, filepath.Join(b.dir, report.FileName(100)), v.Report)
	assert.Empty(t, s.sink.Path(), "report is closed")

	data, err := os.ReadFile(v.Report)
	require.NoError(t, err)
	text := string(data)
	for _, title := range []string{
		"DCV Amplitude Accuracy - High Res",
		"DCV Amplitude Accuracy - Low Res",
		"DCV Zero Ohm Output Resistance",
		"ACV Amplitude Accuracy - Sine Wave",
		"ACV Amplitude Accuracy - Square Wave",
		"Offset Accuracy",
		"Flatness",
		"DCI Amplitude Accuracy - High Res",
		"DCI Amplitude Accuracy - Low Res",
	} {
		assert.Contains(t, text, "\n"+title+"\n"+strings.Repeat("-", len(title))+"\n")
	}
	assert.Equal(t, 44, strings.Count(text, "PASS")+strings.Count(text, "FAIL"))
	assert.Equal(t, text, b.console.String())
}

func TestVerifyOnlySelected(t *testing.T) {
	b := newBench(t, 0)
	s := b.session(t, FrontA)

	v, err := s.Verify(ProcedureDCI)
	require.NoError(t, err)
	assert.Len(t, v.Results, 12)
	assert.Equal(t, []string{"Front Out-A -> DVM Current input"}, b.prompts.prompts)

	wantDUT := []string{
		"RESET 0", "USE 0",
		"RANGE 0.0001",
		"APPLY DCI 0.000100", "APPLY DCI 0.000000", "APPLY DCI -0.000100",
		"RANGE 0.1",
		"APPLY DCI 0.100000", "APPLY DCI 0.000000", "APPLY DCI -0.100000",
		"RESET 0", "USE 0",
		"DCRES LOW", "RANGE 0.0001",
		"APPLY DCI 0.000100", "APPLY DCI 0.000000", "APPLY DCI -0.000100",
		"RANGE 0.1",
		"APPLY DCI 0.100000", "APPLY DCI 0.000000", "APPLY DCI -0.100000",
	}
	if diff := cmp.Diff(wantDUT, b.dut.Commands()); diff != "" {
		t.Errorf("DUT transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyClosesReportOnProtocolError(t *testing.T) {
	b := newBench(t, 1.25)
	b.dut.FailCompletion("APPLY DCV -1.250000", instrument.ErrTimeout)
	s := b.session(t, FrontA)

	v, err := s.Verify()

	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "APPLY DCV -1.250000", pe.Command)
	require.NotNil(t, v)
	assert.Len(t, v.Results, 2)
	assert.Empty(t, s.sink.Path(), "report is closed")

	data, err := os.ReadFile(filepath.Join(b.dir, report.FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n["))
}

func TestVerifyUnknownProcedure(t *testing.T) {
	b := newBench(t, 0)
	s := b.session(t, FrontA)

	_, err := s.Verify("dcv", "noise")
	assert.ErrorIs(t, err, ErrUnknownProcedure)
	assert.Empty(t, b.dut.Commands())

	_, statErr := os.Stat(filepath.Join(b.dir, report.FileName(0)))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestTestCase(t *testing.T) {
	c := TestCase{Apply: "ACV", Target: .15625, Band: 720e-6, Unit: "V", Goal: goal(.11047)}
	assert.Equal(t, "APPLY ACV 0.156250", c.Command())
	s := c.Spec()
	require.NotNil(t, s.Target)
	assert.InDelta(t, .11047, *s.Target, 1e-12)
	assert.InDelta(t, .11047-720e-6, s.Lower, 1e-12)
	assert.InDelta(t, .11047+720e-6, s.Upper, 1e-12)

	z := TestCase{Bounded: true, Lower: 0, Upper: .5, Unit: "Ohm"}
	assert.Empty(t, z.Command())
	assert.Nil(t, z.Spec().Target)
}

func TestProcedureTablesAreWellFormed(t *testing.T) {
	for _, name := range DefaultProcedures {
		p, ok := LookupProcedure(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)

		tests := 0
		for _, st := range p.Steps {
			if st.Kind == StepTest {
				require.NotNil(t, st.Test, name)
				tests++
			}
		}
		assert.NotZero(t, tests, name)
	}
}

func TestSlowReadPublishesEvent(t *testing.T) {
	b := newBench(t, 1)
	hub := events.NewHub()
	defer hub.Close()
	sub := hub.Subscribe()

	now := time.Unix(0, 0)
	s := b.session(t, FrontA, func(o *Options) {
		o.Hub = hub
		o.Clock = func() time.Time {
			now = now.Add(20 * time.Second)
			return now
		}
	})

	_, err := s.read()
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, events.SlowRead, ev.Name)
		p, err := events.DecodeAs[events.SlowReadEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, "HP3458A", p.Instrument)
		assert.InDelta(t, 20.0, p.ElapsedSec, 1e-9)
	default:
		t.Fatal("no slow read event")
	}
}

func TestPromptsArePublished(t *testing.T) {
	b := newBench(t, 0)
	hub := events.NewHub()
	defer hub.Close()
	sub := hub.Subscribe()
	s := b.session(t, BackB, func(o *Options) { o.Hub = hub })

	require.NoError(t, s.cable.EnsureCurrent())

	ev := <-sub
	require.Equal(t, events.OperatorPrompt, ev.Name)
	p, err := events.DecodeAs[events.OperatorPromptEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "Back Out-B -> DVM Current input", p.Prompt)
}

func TestSelfTest(t *testing.T) {
	dut := instrument.NewMock("HP3245A", 0)
	rec := &recorder{}
	var out bytes.Buffer

	results, err := SelfTest(dut, rec, &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"FTEST 0", "FTEST 1", "FTEST 101", "FTEST 100"}, dut.Commands())
	assert.Equal(t, []string{
		"COAX: Front A-out Front A-trig, press ENTER",
		"COAX: Back A-out Front A-trig, press ENTER",
		"COAX: Back B-out Front B-trig, press ENTER",
		"COAX: Front B-out Front B-trig, press ENTER",
	}, rec.prompts)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Passed(), fmt.Sprint(r.Channel))
	}
	assert.Equal(t, strings.Repeat("PASSED\n", 4), out.String())
}
