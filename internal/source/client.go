// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package source is the client for the Home Assistant Supervisor backup API,
// the local subsystem that creates, lists, streams and removes snapshots.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
)

const (
	// maxErrorBodySize caps how much of an error response is kept.
	maxErrorBodySize = 64 * 1024

	jobPollTimeout     = 10 * time.Second
	coreVersionTimeout = 10 * time.Second
)

// Client talks to the Supervisor REST API.
type Client struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	requestTimeout  time.Duration
	downloadTimeout time.Duration

	clock         clock.Clock
	retryAttempts int
	retryDelay    time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests point it at httptest).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used between retry attempts.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithRetry sets the attempt count and initial delay for idempotent reads.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// NewClient creates a Supervisor client.
func NewClient(cfg config.SourceConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(cfg.URL, "/"),
		token:           cfg.Token,
		httpClient:      &http.Client{},
		requestTimeout:  cfg.RequestTimeout,
		downloadTimeout: cfg.DownloadTimeout,
		clock:           clock.WallClock,
		retryAttempts:   3,
		retryDelay:      500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts a full backup. The Supervisor answers either with a slug
// (older, synchronous versions) or a job ID.
func (c *Client) Create(ctx context.Context, name string, compressed bool) (CreateResult, error) {
	body := map[string]any{"name": name, "compressed": compressed}
	var data createData
	if err := c.call(ctx, "create", http.MethodPost, "/backups/new/full", body, c.requestTimeout, &data); err != nil {
		return CreateResult{}, err
	}
	return CreateResult{JobID: data.JobID, Slug: data.Slug}, nil
}

// GetJob fetches one job poll result. Never retried here: the locator owns
// the poll cadence.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var data jobData
	path := "/jobs/" + url.PathEscape(jobID)
	if err := c.call(ctx, "get_job", http.MethodGet, path, nil, jobPollTimeout, &data); err != nil {
		return Job{}, err
	}
	return data.normalize(jobID), nil
}

// List returns all local snapshots in the order the Supervisor reports them.
func (c *Client) List(ctx context.Context) ([]Snapshot, error) {
	var data listData
	err := c.withRetry(ctx, "list", func() error {
		return c.call(ctx, "list", http.MethodGet, "/backups", nil, c.requestTimeout, &data)
	})
	if err != nil {
		return nil, err
	}
	if data.Backups != nil {
		return data.Backups, nil
	}
	return data.Snapshots, nil
}

// Info returns the snapshot's Home Assistant version and exact size.
func (c *Client) Info(ctx context.Context, slug string) (Info, error) {
	var data infoData
	err := c.withRetry(ctx, "info", func() error {
		return c.call(ctx, "info", http.MethodGet, "/backups/"+url.PathEscape(slug)+"/info", nil, c.requestTimeout, &data)
	})
	if err != nil {
		return Info{}, err
	}
	version := data.HomeAssistant
	if version == "" {
		version = "unknown"
	}
	return Info{SourceVersion: version, SizeBytes: data.SizeBytes}, nil
}

// Download opens the snapshot stream. The download timeout covers the time
// until response headers arrive. Reading the body is bounded by ctx, and the
// uploader closes the body when its transfer deadline passes.
func (c *Client) Download(ctx context.Context, slug string) (*Download, error) {
	dctx, cancel := context.WithCancel(ctx)
	timer := c.clock.AfterFunc(c.downloadTimeout, cancel)

	req, err := c.newRequest(dctx, http.MethodGet, "/backups/"+url.PathEscape(slug)+"/download", nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "application/x-tar")

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the caller through Download.Body
	if err != nil {
		timer.Stop()
		cancel()
		metrics.RecordSourceRequest("download", 0)
		return nil, fmt.Errorf("supervisor download request failed: %w", err)
	}
	metrics.RecordSourceRequest("download", resp.StatusCode)
	timer.Stop()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, &StatusError{Op: "download", StatusCode: resp.StatusCode, Message: readBodyForError(resp.Body)}
	}

	return &Download{
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		ContentLength: resp.ContentLength,
	}, nil
}

// Delete removes a snapshot. It checks existence first; a 404 from either
// the check or the removal means the snapshot is already gone, which is not
// an error. deleted reports whether this call removed it.
func (c *Client) Delete(ctx context.Context, slug string) (deleted bool, err error) {
	path := "/backups/" + url.PathEscape(slug)

	if err := c.call(ctx, "info", http.MethodGet, path+"/info", nil, c.requestTimeout, nil); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if err := c.call(ctx, "remove", http.MethodPost, path+"/remove", nil, c.requestTimeout, nil); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CoreVersion returns the running Home Assistant Core version.
func (c *Client) CoreVersion(ctx context.Context) (string, error) {
	var data coreInfoData
	err := c.withRetry(ctx, "core_info", func() error {
		return c.call(ctx, "core_info", http.MethodGet, "/core/info", nil, coreVersionTimeout, &data)
	})
	if err != nil {
		return "", err
	}
	return data.Version, nil
}

// withRetry retries transport errors and 5xx responses for idempotent reads.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	if c.retryAttempts <= 1 {
		return fn()
	}
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return false
		},
		NotifyFunc: func(err error, attempt int) {
			logging.Ctx(ctx).Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("Supervisor request failed, retrying")
		},
		Attempts:    c.retryAttempts,
		Delay:       c.retryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		if last := retry.LastError(err); last != nil {
			return last
		}
	}
	return err
}

// call performs one JSON request against the Supervisor and decodes the
// envelope's data into out (when out is non-nil).
func (c *Client) call(ctx context.Context, op, method, path string, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordSourceRequest(op, 0)
		return fmt.Errorf("supervisor %s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordSourceRequest(op, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: readBodyForError(resp.Body)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode supervisor %s response: %w", op, err)
	}
	if env.Result != "ok" {
		msg := env.Message
		if msg == "" {
			msg = "result=" + env.Result
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode supervisor %s data: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// readBodyForError reads a bounded prefix of an error response body.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return fmt.Sprintf("(failed to read body: %v)", err)
	}
	return strings.TrimSpace(string(body))
}

// cancelOnClose releases the download context when the stream is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
