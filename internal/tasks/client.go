package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a task target. The queue delivers each kind to its own
// endpoint; the trampoline kind wraps either of the real targets when the
// delay exceeds the queue's scheduling horizon.
type Kind string

const (
	KindClearFee   Kind = "clear_fee"
	KindFollowUp   Kind = "follow_up"
	KindTrampoline Kind = "trampoline"
)

// endpointPaths maps a logical task kind to the HTTP path the queue calls
var endpointPaths = map[Kind]string{
	KindClearFee:   "/internal/tasks/clear-fee",
	KindFollowUp:   "/internal/tasks/review-prompt",
	KindTrampoline: "/internal/tasks/trampoline",
}

// Task is a single scheduled HTTP delivery
type Task struct {
	Endpoint  Kind
	Body      interface{}
	NotBefore time.Time
}

// Scheduler is the durable task queue contract: at-least-once delivery of
// an HTTP call no earlier than NotBefore, within the queue's horizon.
type Scheduler interface {
	Schedule(ctx context.Context, task Task) (string, error)
	Delete(ctx context.Context, handle string) error
}

// ErrUnknownBooking is returned by handle stores when the booking a task
// handle should be persisted on does not exist
var ErrUnknownBooking = errors.New("booking not found")

// Client talks to the durable task queue service
type Client struct {
	httpClient *http.Client
	queueURL   string
	token      string
	targetBase string
}

// NewClient creates a new task queue client. targetBase is this service's
// externally reachable base URL; logical endpoint names resolve against it.
func NewClient(queueURL, token, targetBase string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queueURL:   queueURL,
		token:      token,
		targetBase: targetBase,
	}
}

type createTaskRequest struct {
	Name         string          `json:"name"`
	URL          string          `json:"url"`
	HTTPMethod   string          `json:"http_method"`
	Headers      map[string]string `json:"headers"`
	Body         json.RawMessage `json:"body"`
	ScheduleTime time.Time       `json:"schedule_time"`
	Queue        string          `json:"queue"`
}

type createTaskResponse struct {
	Name string `json:"name"`
}

// Schedule enqueues a task and returns the queue's handle for it
func (c *Client) Schedule(ctx context.Context, task Task) (string, error) {
	path, ok := endpointPaths[task.Endpoint]
	if !ok {
		return "", fmt.Errorf("unknown task endpoint %q", task.Endpoint)
	}

	body, err := json.Marshal(task.Body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task body: %w", err)
	}

	// Client-side names make accidental double-enqueues distinguishable in
	// the queue's audit log.
	req := createTaskRequest{
		Name:       fmt.Sprintf("%s-%s", task.Endpoint, uuid.NewString()),
		URL:        c.targetBase + path,
		HTTPMethod: http.MethodPost,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"X-Queue-Token": c.token,
		},
		Body:         body,
		ScheduleTime: task.NotBefore.UTC(),
		Queue:        string(task.Endpoint),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queueURL+"/v1/tasks", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build task request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to schedule task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("task queue returned status %d", resp.StatusCode)
	}

	var created createTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode task response: %w", err)
	}
	return created.Name, nil
}

// Delete removes a scheduled task by handle. Best-effort: a 404 means the
// task already ran or was already removed, which callers treat as success.
func (c *Client) Delete(ctx context.Context, handle string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.queueURL+"/v1/tasks/"+url.PathEscape(handle), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("task queue returned status %d deleting %s", resp.StatusCode, handle)
	}
	return nil
}
