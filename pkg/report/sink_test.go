package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/hp3245cal/pkg/tolerance"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestHeaderConsoleOnly(t *testing.T) {
	var out bytes.Buffer
	s := NewSink(&out)

	require.NoError(t, s.Header("Flatness"))
	assert.Equal(t, "\nFlatness\n--------\n", out.String())
	assert.Empty(t, s.Path())
}

func TestSinkWritesBothDestinations(t *testing.T) {
	var out bytes.Buffer
	s := NewSink(&out)
	path := filepath.Join(t.TempDir(), "reports", FileName(100))

	require.NoError(t, s.Open(path))
	assert.Equal(t, path, s.Path())

	require.NoError(t, s.Header("Offset Accuracy"))
	r := tolerance.Evaluate(tolerance.Bounded(0, 0.5, "Ohm"), 0.7)
	require.NoError(t, s.Result(r))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	want := "\nOffset Accuracy\n---------------\n" + r.String() + "\n"
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(b))
	assert.Equal(t, want, out.String())
	assert.Contains(t, string(b), "FAIL")

	// writes after close only reach the console
	require.NoError(t, s.Line("tail"))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(b))
}

func TestOpenTwiceFails(t *testing.T) {
	s := NewSink(&bytes.Buffer{})
	dir := t.TempDir()

	require.NoError(t, s.Open(filepath.Join(dir, FileName(0))))
	defer s.Close()
	assert.Error(t, s.Open(filepath.Join(dir, FileName(1))))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "_hp3245_operational_verification_0.txt", FileName(0))
	assert.Equal(t, "_hp3245_operational_verification_101.txt", FileName(101))
}
