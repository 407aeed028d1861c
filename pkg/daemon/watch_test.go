package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/hp3245cal/pkg/config"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
)

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	old := reloadDebounce
	reloadDebounce = 20 * time.Millisecond
	t.Cleanup(func() { reloadDebounce = old })

	dir := t.TempDir()
	path := filepath.Join(dir, "hp3245cal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("acalKind: DCV\n"), 0644))

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- watchConfig(ctx, path, func() { reloads.Add(1) })
	}()

	// unrelated files in the same directory are ignored
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load())

	require.NoError(t, os.WriteFile(path, []byte("acalKind: ALL\n"), 0644))
	assert.Eventually(t, func() bool { return reloads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchConfigMissingDirectory(t *testing.T) {
	err := watchConfig(context.Background(), filepath.Join(t.TempDir(), "nope", "c.yaml"), func() {})
	assert.Error(t, err)
}

func TestReloadAppliesSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hp3245cal.yaml")
	conf, err := config.NewFile(path)
	require.NoError(t, err)

	d, err := New(Options{
		Config: conf,
		DUT:    instrument.NewMock("HP3245A", 0),
		DVM:    instrument.NewMock("HP3458A", 0),
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("acalSchedule: \"0 3 * * *\"\nacalKind: ALL\n"), 0644))
	d.reload("test")
	assert.Equal(t, "ALL", conf.ACalKind())
	next, _ := d.scheduler.Status()
	assert.False(t, next.IsZero())

	// a broken file keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("dutAddress: 99\n"), 0644))
	d.reload("test")
	assert.Equal(t, "ALL", conf.ACalKind())
}
