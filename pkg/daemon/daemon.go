// Package daemon serves the bench over HTTP on a unix socket, so runs can be
// started, followed and their cable prompts acknowledged from another
// terminal. It also runs the reference meter's auto-calibration on a cron
// schedule while the bench is idle.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/config"
	"github.com/charlie0129/hp3245cal/pkg/events"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
)

// Options configures a Daemon. The instruments are borrowed; the daemon never
// closes them.
type Options struct {
	Config config.Config
	DUT    instrument.DUT
	DVM    instrument.DVM
}

type Daemon struct {
	conf config.Config
	dut  instrument.DUT
	dvm  instrument.DVM

	hub       *events.Hub
	prompter  *Prompter
	scheduler *Scheduler
	router    *gin.Engine

	mu     sync.Mutex
	state  calibration.State
	report string
	runs   sync.WaitGroup
}

func New(o Options) (*Daemon, error) {
	if o.Config == nil || o.DUT == nil || o.DVM == nil {
		return nil, errors.New("config, DUT and DVM are required")
	}

	d := &Daemon{
		conf:     o.Config,
		dut:      o.DUT,
		dvm:      o.DVM,
		hub:      events.NewHub(),
		prompter: NewPrompter(),
		state:    calibration.State{Phase: calibration.PhaseIdle},
	}
	d.scheduler = NewScheduler(d.scheduledACal, d.busy, d.announceACal, func(data any) {
		logrus.Warnf("scheduled auto-calibration: %v", data)
	})
	d.router = d.setupRoutes()

	return d, nil
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", d.getStatus)
	router.POST("/runs", d.postRun)
	router.GET("/prompt", d.getPrompt)
	router.POST("/confirm", d.postConfirm)
	router.GET("/events", d.getEvents)
	router.POST("/acal/skip", d.postSkipACal)
	router.GET("/reports/:channel", d.getReport)
	router.GET("/version", getVersion)

	return router
}

// Handler exposes the API, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

func (d *Daemon) scheduledACal() error {
	_, err := d.StartRun(calibration.RunRequest{Procedure: calibration.ProcedureACal})
	return err
}

func (d *Daemon) announceACal(data any) {
	at, _ := data.(time.Time)
	logrus.WithField("at", at.Format(time.DateTime)).Info("auto-calibration upcoming")
	d.hub.Publish(events.ACalUpcoming, events.ACalUpcomingEvent{
		Kind:  d.conf.ACalKind(),
		RunAt: at.Unix(),
		Ts:    time.Now().Unix(),
	})
}

func (d *Daemon) applySchedule() {
	expr := d.conf.ACalSchedule()
	if err := d.scheduler.Schedule(expr); err != nil {
		logrus.WithError(err).Error("failed to schedule auto-calibration")
		return
	}
	if expr != "" {
		next, _ := d.scheduler.Status()
		logrus.WithFields(logrus.Fields{
			"schedule": expr,
			"next":     next.Format(time.DateTime),
		}).Info("auto-calibration scheduled")
	}
}

// Run serves on unixSocketPath until ctx is done. SIGHUP or an edit of the
// config file reloads the config and the ACAL schedule.
func (d *Daemon) Run(ctx context.Context, unixSocketPath string, allowNonRoot bool) error {
	logrus.WithFields(d.conf.LogrusFields()).Infof("config loaded")

	// A socket left by a crashed daemon makes Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}
	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		if err := os.Chmod(unixSocketPath, 0777); err != nil {
			_ = l.Close()
			return pkgerrors.Wrapf(err, "failed to change permissions of %s", unixSocketPath)
		}
	}

	srv := &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.applySchedule()
	d.scheduler.Start()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		d.reloadOnHangup(ctx)
		return nil
	})

	if path := d.conf.Path(); path != "" {
		g.Go(func() error {
			if err := watchConfig(ctx, path, func() { d.reload("file changed") }); err != nil {
				logrus.WithError(err).Warn("config file changes will not be picked up, send SIGHUP instead")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down")

		// Unblock a run waiting for the operator and end event streams,
		// otherwise Shutdown waits for them.
		d.prompter.Close()
		d.scheduler.Stop()
		d.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("failed to shutdown http server: %v", err)
		}

		logrus.Info("waiting for the current run to stop")
		d.runs.Wait()
		return nil
	})

	err = g.Wait()
	logrus.Info("exiting")
	return err
}

func (d *Daemon) reloadOnHangup(ctx context.Context) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigc:
			d.reload("SIGHUP")
		}
	}
}

func (d *Daemon) reload(reason string) {
	if err := d.conf.Load(); err != nil {
		logrus.WithField("reason", reason).Errorf("failed to reload config: %v", err)
		return
	}
	logrus.WithField("reason", reason).Infof("config reloaded")
	d.applySchedule()
}
