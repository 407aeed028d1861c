package daemon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLead          = time.Minute      // announce upcoming runs this early
	defaultRetryInterval = 30 * time.Second // wait between failed prechecks
	defaultMaxRetries    = 120
	idleWait             = 10000 * time.Hour
)

// ErrNoSchedule is returned by Skip when no run is scheduled.
var ErrNoSchedule = errors.New("no active schedule to skip")

// NotifyFunc receives the run time (OnUpcoming) or an error (OnError).
type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. Lead before every run it calls
// OnUpcoming. At run time PreCheck must pass; while it fails the run is
// retried every RetryInterval, at most MaxRetries times, then dropped.
type Scheduler struct {
	Task       TaskFunc
	PreCheck   TaskFunc
	OnUpcoming NotifyFunc
	OnError    NotifyFunc

	Lead          time.Duration
	RetryInterval time.Duration
	MaxRetries    int

	parser cron.Parser

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	controlCh chan control
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

type controlKind int

const (
	ctrlReschedule controlKind = iota
	ctrlSkip
	ctrlClear
)

type control struct {
	kind     controlKind
	schedule cron.Schedule
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:          task,
		PreCheck:      preCheck,
		OnUpcoming:    onUpcoming,
		OnError:       onError,
		Lead:          defaultLead,
		RetryInterval: defaultRetryInterval,
		MaxRetries:    defaultMaxRetries,
		parser:        cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		controlCh:     make(chan control, 4),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the scheduling loop. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the loop and waits for it. A stopped scheduler cannot be
// restarted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		<-s.doneCh
	}
}

// Schedule replaces the schedule. An empty expression clears it.
func (s *Scheduler) Schedule(expr string) error {
	if expr == "" {
		s.Clear()
		return nil
	}

	sh, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	s.mu.Lock()
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(control{kind: ctrlReschedule, schedule: sh})
	}
	return nil
}

// Clear removes the schedule.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.schedule = nil
	s.nextRun = time.Time{}
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(control{kind: ctrlClear})
	}
}

// Skip drops the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(control{kind: ctrlSkip})
	}
	return nil
}

// Status returns the next run time (zero when unscheduled) and whether the
// loop is running.
func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")
	for s.cycle() {
	}
}

// cycle waits for one scheduled run or a control message. It returns false
// once the scheduler is stopped.
func (s *Scheduler) cycle() bool {
	schedule, next := s.snapshot()

	wait := idleWait
	if schedule != nil && !next.IsZero() {
		wait = nonNegative(time.Until(next) - s.Lead)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	announced := false
	retries := 0
	var lastErr error

	for {
		select {
		case <-s.stopCh:
			return false
		case msg := <-s.controlCh:
			s.apply(msg)
			return true
		case <-timer.C:
		}

		if schedule == nil || next.IsZero() {
			timer.Reset(idleWait)
			continue
		}

		if !announced {
			announced = true
			logrus.Debugf("upcoming scheduled task at %s", next.Format(time.DateTime))
			s.notify(s.OnUpcoming, next)
			timer.Reset(nonNegative(time.Until(next)))
			continue
		}

		if s.PreCheck != nil {
			if err := s.PreCheck(); err != nil {
				// report each distinct reason once
				if lastErr == nil || err.Error() != lastErr.Error() {
					lastErr = err
					s.notify(s.OnError, fmt.Errorf("precheck failed: %w", err))
				}
				retries++
				if retries <= s.MaxRetries {
					logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", retries, s.MaxRetries, err, s.RetryInterval)
					timer.Reset(s.RetryInterval)
					continue
				}
				logrus.Warnf("dropping scheduled task at %s after %d failed prechecks", next.Format(time.DateTime), retries-1)
				s.advance()
				return true
			}
		}

		logrus.Debugf("running scheduled task at %s", next.Format(time.DateTime))
		go func() {
			if err := s.Task(); err != nil {
				s.notify(s.OnError, fmt.Errorf("task failed: %w", err))
			}
		}()
		s.advance()
		return true
	}
}

func (s *Scheduler) apply(msg control) {
	logrus.WithField("kind", msg.kind).Debug("received control msg")

	if msg.kind != ctrlReschedule {
		// Skip and Clear already updated nextRun.
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = msg.schedule
	s.nextRun = msg.schedule.Next(time.Now())
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) notify(f NotifyFunc, data any) {
	if f == nil {
		return
	}
	go f(data)
}

func (s *Scheduler) send(msg control) {
	select {
	case s.controlCh <- msg:
	default:
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
