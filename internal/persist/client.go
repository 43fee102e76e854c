package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/resilience"
	"github.com/meshflow/capture/internal/trace"
)

// Record is a capture session as the backend stores it. Region is in
// video coordinates.
type Record struct {
	ID        string        `json:"id,omitempty"`
	SessionID string        `json:"session_id"`
	Kind      string        `json:"kind"`
	Region    geometry.Rect `json:"region"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Patch updates a subset of a record's fields. Nil fields are untouched.
type Patch struct {
	Kind    *string        `json:"kind,omitempty"`
	Region  *geometry.Rect `json:"region,omitempty"`
	EndedAt *time.Time     `json:"ended_at,omitempty"`
}

// Client talks to the persistence backend. A circuit breaker sheds load
// when the backend is down so a dead backend costs one failed request per
// reset interval instead of one per capture event.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultRequestTimeout},
		breaker: resilience.NewBreaker(resilience.DefaultConfig()),
	}
}

// Create stores a new record and returns the backend-assigned ID.
func (c *Client) Create(ctx context.Context, rec Record) (string, error) {
	var created Record
	err := c.do(ctx, http.MethodPost, c.baseURL+recordsPath, rec, &created)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New(errors.CodePersistFailed, "backend returned record without id")
	}
	return created.ID, nil
}

// Update applies a partial update to an existing record.
func (c *Client) Update(ctx context.Context, id string, patch Patch) error {
	if id == "" {
		return errors.New(errors.CodeInvalidArgument, "record id required")
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("%s%s/%s", c.baseURL, recordsPath, id), patch, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return errors.Wrap(err, errors.CodePersistFailed, "persistence backend unavailable")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		c.breaker.Success()
		return errors.Wrap(err, errors.CodeInternal, "encode record")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		c.breaker.Success()
		return errors.Wrap(err, errors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if tc, ok := trace.FromContext(ctx); ok {
		req.Header.Set(trace.TraceIDKey, tc.TraceID)
		req.Header.Set(trace.SpanIDKey, tc.SpanID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		return errors.Wrap(err, errors.CodePersistFailed, "persistence request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			c.breaker.Failure()
		} else {
			c.breaker.Success()
		}
		return errors.Newf(errors.CodePersistFailed, "persistence backend returned %d", resp.StatusCode)
	}

	c.breaker.Success()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, errors.CodePersistFailed, "decode backend response")
		}
	}
	return nil
}
