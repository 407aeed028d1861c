package client

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/hp3245cal/pkg/calibration"
)

func (c *Client) GetStatus() (*calibration.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// StartRun asks the daemon to start req. ErrConflict means another run is
// active.
func (c *Client) StartRun(req calibration.RunRequest) (*calibration.State, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/runs", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start %s", req.Procedure)
	}

	var st calibration.State
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal run state")
	}
	return &st, nil
}

// GetPrompt returns the pending operator prompt, or "".
func (c *Client) GetPrompt() (string, error) {
	ret, err := c.Get("/prompt")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get prompt")
	}
	var p string
	if err := json.Unmarshal([]byte(ret), &p); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal prompt")
	}
	return p, nil
}

// Confirm acknowledges the pending prompt. A non-empty prompt must match the
// pending one. ErrNotFound means nothing was pending.
func (c *Client) Confirm(prompt string) error {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}
	if _, err := c.Post("/confirm", string(payload)); err != nil {
		return pkgerrors.Wrapf(err, "failed to confirm prompt")
	}
	return nil
}

// SkipACal drops the next scheduled auto-calibration and returns the run
// after it. ErrNotFound means nothing is scheduled.
func (c *Client) SkipACal() (time.Time, error) {
	ret, err := c.Post("/acal/skip", "")
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to skip auto-calibration")
	}

	var next time.Time
	if err := json.Unmarshal([]byte(ret), &next); err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to unmarshal next run")
	}
	return next, nil
}

// GetReport returns the verification report of channel ("a", "b", "0", ...).
func (c *Client) GetReport(channel string) (string, error) {
	ret, err := c.Get("/reports/" + channel)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get report of channel %s", channel)
	}
	return ret, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}
