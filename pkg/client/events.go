package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/charlie0129/hp3245cal/pkg/events"
)

// SubscribeEvents streams daemon events until ctx is done or the daemon
// closes the stream. The returned channel is closed then.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	sc := sse.NewClient(c.url("/events"))
	sc.Connection = c.httpClient
	// A dropped stream means the daemon went away; the caller decides.
	sc.ReconnectStrategy = &backoff.StopBackOff{}

	connected := make(chan error, 1)
	sc.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		var body []byte
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ = io.ReadAll(resp.Body)
			_ = resp.Body.Close()
		}
		err := checkStatus(resp.StatusCode, string(body))
		connected <- err
		return err
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)

		err := sc.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			ev := events.Event{Name: string(msg.Event), Data: json.RawMessage(msg.Data)}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		// Dial failures never reach the validator.
		select {
		case connected <- err:
		default:
		}
		if err != nil && ctx.Err() == nil {
			logrus.WithError(err).Debug("event stream ended")
		}
	}()

	if err := <-connected; err != nil {
		return nil, err
	}
	return out, nil
}
