package daemon

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
	"github.com/charlie0129/hp3245cal/pkg/report"
	"github.com/charlie0129/hp3245cal/pkg/service"
	"github.com/charlie0129/hp3245cal/pkg/version"
)

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.Status())
}

func (d *Daemon) postRun(c *gin.Context) {
	var req calibration.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	st, err := d.StartRun(req)
	switch {
	case err == nil:
		c.IndentedJSON(http.StatusAccepted, st)
	case errors.Is(err, ErrRunInProgress):
		abort(c, http.StatusConflict, err)
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnsupported):
		abort(c, http.StatusBadRequest, err)
	default:
		abort(c, http.StatusInternalServerError, err)
	}
}

func (d *Daemon) getPrompt(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.prompter.Pending())
}

type confirmRequest struct {
	Prompt string `json:"prompt"`
}

func (d *Daemon) postConfirm(c *gin.Context) {
	var req confirmRequest
	// an empty body confirms whatever is pending
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}

	switch err := d.prompter.Acknowledge(req.Prompt); {
	case err == nil:
		c.IndentedJSON(http.StatusOK, "ok")
	case errors.Is(err, ErrNoPrompt):
		abort(c, http.StatusNotFound, err)
	default:
		abort(c, http.StatusConflict, err)
	}
}

// postSkipACal drops the next scheduled auto-calibration and returns the one
// after it.
func (d *Daemon) postSkipACal(c *gin.Context) {
	if err := d.scheduler.Skip(); err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	next, _ := d.scheduler.Status()
	logrus.WithField("nextRun", next).Info("next auto-calibration skipped")
	c.IndentedJSON(http.StatusOK, next)
}

func (d *Daemon) getEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	// headers out first so clients know they are subscribed
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (d *Daemon) getReport(c *gin.Context) {
	ch, err := service.ParseChannel(c.Param("channel"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	path := filepath.Join(d.conf.ReportDir(), report.FileName(int(ch)))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			abort(c, http.StatusNotFound, errors.New("no report for channel "+ch.String()))
			return
		}
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.File(path)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
