package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"feedbacksync/internal/domain/queue"
)

// Submitter delivers one queued item to the remote store. The transport
// behind it belongs to the surrounding application; the manager only
// needs success or failure.
type Submitter interface {
	Submit(ctx context.Context, item queue.Item) error
}

// PermanentError marks a rejection the remote will repeat (4xx). The
// item still ends up failed rather than dropped, so an operator can
// inspect it.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("remote rejected submission (%d): %s", e.Status, e.Body)
}

// RemoteClient submits queued items to the hospital API over HTTP.
type RemoteClient struct {
	http *resty.Client
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteClient{http: client}
}

func (c *RemoteClient) Submit(ctx context.Context, item queue.Item) error {
	path := "/api/v1/feedback"
	if item.Kind == queue.KindSync {
		path = "/api/v1/sync/" + item.Type
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Queue-Item-ID", item.ID).
		SetBody(json.RawMessage(item.Payload)).
		Post(path)
	if err != nil {
		return fmt.Errorf("submit %s: %w", item.ID, err)
	}
	if resp.IsError() {
		if resp.StatusCode() < 500 {
			return &PermanentError{Status: resp.StatusCode(), Body: resp.String()}
		}
		return fmt.Errorf("submit %s: remote returned %d", item.ID, resp.StatusCode())
	}
	return nil
}

// Healthz probes the remote API; a nil return means the network path is
// up.
func (c *RemoteClient) Healthz(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("connectivity probe: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("connectivity probe: remote returned %d", resp.StatusCode())
	}
	return nil
}
