package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"seqwatch/internal/datastore"
	"seqwatch/internal/services"
)

const defaultClientTimeout = 10 * time.Second

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// Unwrap maps HTTP status codes onto the service error markers.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest, http.StatusConflict:
		return services.ErrValidation
	case http.StatusNotFound:
		return services.ErrNotFound
	default:
		return nil
	}
}

// Client talks to a running daemon over HTTP.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon bound at bind. A bind of the form
// ":port" or "0.0.0.0:port" is dialed on the loopback interface.
func NewClient(bind, token string) (*Client, error) {
	base, err := baseURL(bind)
	if err != nil {
		return nil, err
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{},
	}, nil
}

func baseURL(bind string) (string, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return "", services.Wrap(services.ErrConfiguration, "api", "client", "api_bind is empty", nil)
	}
	if strings.HasPrefix(bind, "http://") || strings.HasPrefix(bind, "https://") {
		return strings.TrimRight(bind, "/"), nil
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "api", "client", "invalid api_bind "+bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Runs lists the runs known to the daemon.
func (c *Client) Runs(ctx context.Context) ([]Run, error) {
	var resp RunListResponse
	if err := c.do(ctx, http.MethodGet, "/api/pipelines", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run returns one run.
func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp RunResponse
	err := c.do(ctx, http.MethodGet, "/api/pipelines/"+url.PathEscape(id), nil, &resp)
	return resp.Run, err
}

// Cancel requests cancellation of a queued or running run.
func (c *Client) Cancel(ctx context.Context, id string) (Run, error) {
	var resp RunResponse
	err := c.do(ctx, http.MethodPost, "/api/pipelines/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp.Run, err
}

// Clear removes a finished run.
func (c *Client) Clear(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/pipelines/"+url.PathEscape(id), nil, nil)
}

// References lists the reference panel.
func (c *Client) References(ctx context.Context) ([]datastore.ReferenceEntry, error) {
	var resp ReferencesResponse
	if err := c.do(ctx, http.MethodGet, "/api/references", nil, &resp); err != nil {
		return nil, err
	}
	return resp.References, nil
}

// Change submits a configuration change.
func (c *Client) Change(ctx context.Context, req ChangeRequest) (ChangeResponse, error) {
	var resp ChangeResponse
	err := c.do(ctx, http.MethodPost, "/api/changes", req, &resp)
	return resp, err
}

// Events returns hub events after since.
func (c *Client) Events(ctx context.Context, since uint64) (EventsResponse, error) {
	var resp EventsResponse
	err := c.do(ctx, http.MethodGet, "/api/events?since="+strconv.FormatUint(since, 10), nil, &resp)
	return resp, err
}

// Logs returns up to limit log events after since.
func (c *Client) Logs(ctx context.Context, since uint64, limit int) (LogStreamResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs?"+query.Encode(), nil, &resp)
	return resp, err
}

// WaitLogs long-polls for log events after since, holding the request open
// for up to wait when none are buffered.
func (c *Client) WaitLogs(ctx context.Context, since uint64, limit int, wait time.Duration) (LogStreamResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		query.Set("wait", wait.String())
	}
	var resp LogStreamResponse
	err := c.send(ctx, defaultClientTimeout+wait, http.MethodGet, "/api/logs?"+query.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, defaultClientTimeout, method, path, body, out)
}

func (c *Client) send(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", "request", method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", "read response", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	return errors.Is(err, services.ErrTransient)
}
