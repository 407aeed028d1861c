package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse("0 30 2 * * *")
	require.NoError(t, err)

	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	assert.Equal(t, 24*time.Hour, next2.Sub(next1))
	assert.Equal(t, 2, next1.Hour())
	assert.Equal(t, 30, next1.Minute())
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)

	require.NoError(t, s.Schedule("@every 1m"))
	next, running := s.Status()
	assert.False(t, running)
	assert.False(t, next.IsZero())

	assert.Error(t, s.Schedule("every minute please"))

	require.NoError(t, s.Schedule(""))
	next, _ = s.Status()
	assert.True(t, next.IsZero())
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	assert.ErrorIs(t, s.Skip(), ErrNoSchedule)

	require.NoError(t, s.Schedule("@every 10m"))
	orig, _ := s.Status()

	s.Start()
	defer s.Stop()

	require.NoError(t, s.Skip())
	skipped, _ := s.Status()
	assert.True(t, skipped.After(orig), "skip moves the next run forward")
}

func TestSchedulerRunCycle(t *testing.T) {
	upcoming := make(chan time.Time, 1)
	ran := make(chan struct{}, 1)
	errs := make(chan error, 1)
	var prechecks int32

	s := NewScheduler(
		func() error { ran <- struct{}{}; return nil },
		func() error { atomic.AddInt32(&prechecks, 1); return nil },
		func(data any) { upcoming <- data.(time.Time) },
		func(data any) { errs <- data.(error) },
	)
	s.Lead = 20 * time.Millisecond
	require.NoError(t, s.Schedule("@every 1h"))

	forced := time.Now().Add(50 * time.Millisecond)
	s.mu.Lock()
	s.nextRun = forced
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case at := <-upcoming:
		assert.Equal(t, forced, at)
	case <-time.After(time.Second):
		t.Fatal("no upcoming notification")
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&prechecks))

	next, _ := s.Status()
	assert.True(t, next.After(forced), "next run advanced")

	select {
	case err := <-errs:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestSchedulerPreCheckRetriesThenDrops(t *testing.T) {
	ran := make(chan struct{}, 1)
	errs := make(chan error, 4)
	var prechecks int32

	s := NewScheduler(
		func() error { ran <- struct{}{}; return nil },
		func() error { atomic.AddInt32(&prechecks, 1); return errors.New("bench busy") },
		nil,
		func(data any) { errs <- data.(error) },
	)
	s.Lead = 0
	s.RetryInterval = 10 * time.Millisecond
	s.MaxRetries = 3
	require.NoError(t, s.Schedule("@every 1h"))

	s.mu.Lock()
	s.nextRun = time.Now().Add(20 * time.Millisecond)
	s.mu.Unlock()

	s.Start()

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "bench busy")
	case <-time.After(time.Second):
		t.Fatal("expected precheck error")
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&prechecks) == 4
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	select {
	case <-ran:
		t.Fatal("task ran although the precheck failed")
	default:
	}
	assert.Empty(t, errs, "the same reason is reported once")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	s.Start()
	s.Stop()
	s.Stop()

	_, running := s.Status()
	assert.False(t, running)
}
