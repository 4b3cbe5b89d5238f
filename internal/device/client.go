// Package device talks to the focuser control endpoint.
//
// The endpoint takes a short command string both as the request path and as
// the POST body, and answers with plain text. A call is exactly one attempt:
// failures are reported to the caller and never retried here.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/google/uuid"
)

// DefaultTimeout is the client-side limit for one request.
const DefaultTimeout = 3000 * time.Millisecond

var (
	// ErrRequest is returned when the device answers with a non-success status
	// or the request cannot be carried out.
	ErrRequest = errors.New("Request Error")

	// ErrTimeout is returned when no answer arrives before the timeout.
	ErrTimeout = errors.New("Request timeout")
)

// maxAnswer bounds the size of a device answer.
const maxAnswer = 64 << 10

// Client sends commands to a focuser endpoint.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client for the endpoint at baseURL.
// A zero timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// BaseURL returns the endpoint address commands are appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs one request carrying cmd and returns the raw answer.
// The returned error wraps ErrRequest or ErrTimeout.
func (c *Client) Do(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id := uuid.NewString()
	url := c.baseURL + cmd
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(cmd))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	debug.Request(id, url, cmd)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxAnswer))
		return "", fmt.Errorf("%w: %s answered %s", ErrRequest, cmd, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswer))
	if err != nil {
		return "", c.classify(ctx, err)
	}
	answer := strings.TrimRight(string(body), "\r\n")
	debug.Trace("%s answer %q", id, answer)
	return answer, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no answer within %v", ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%w: %v", ErrRequest, err)
}

// Message returns the fixed overlay text for a transport failure:
// "Request timeout" for timeouts, "Request Error" for anything else.
func Message(err error) string {
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout.Error()
	}
	return ErrRequest.Error()
}
