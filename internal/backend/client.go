// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package backend is the client for the HomeSafe archival backend.
//
// Control calls (init, complete, fail, list) are small JSON requests that go
// through a circuit breaker. Transfer calls (chunk, presigned PUT, tabular
// upload) stream the backup body and are never retried or breaker-gated:
// the uploader aborts the whole upload on the first transfer error.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/homesafe-connector/internal/config"
)

const (
	apiKeyHeader     = "x-api-key"
	maxErrorBodySize = 64 * 1024
	maxResponseSize  = 8 << 20
	contentTypeTar   = "application/x-tar"
)

// Client talks to the HomeSafe functions API.
type Client struct {
	baseURL        string
	apiKey         string
	uploadFunction string
	listFunction   string
	timeout        time.Duration
	httpClient     *http.Client

	cb          *gobreaker.CircuitBreaker[interface{}]
	breakerName string
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	breaker    BreakerSettings
	name       string
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithBreaker overrides the circuit breaker tuning and metric label.
func WithBreaker(name string, s BreakerSettings) Option {
	return func(o *clientOptions) {
		o.name = name
		o.breaker = s
	}
}

// NewClient creates a backend client.
func NewClient(cfg config.BackendConfig, opts ...Option) *Client {
	o := clientOptions{
		httpClient: &http.Client{},
		breaker:    DefaultBreakerSettings(),
		name:       BreakerName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.APIURL, "/"),
		apiKey:         cfg.APIKey,
		uploadFunction: cfg.UploadFunction,
		listFunction:   cfg.ListFunction,
		timeout:        cfg.Timeout,
		httpClient:     o.httpClient,
		cb:             newBreaker(o.name, o.breaker),
		breakerName:    o.name,
	}
}

// Init announces an upload and returns the backup ID and destination.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	return execute(c, func() (*InitResponse, error) {
		var data initData
		if err := c.control(ctx, "init", http.MethodPost, c.uploadURL("init", nil), req, &data); err != nil {
			return nil, err
		}
		resp, err := data.resolve()
		if err != nil {
			return nil, fmt.Errorf("invalid init response: %w", err)
		}
		return resp, nil
	})
}

// Complete marks the backup as fully uploaded.
func (c *Client) Complete(ctx context.Context, backupID string) error {
	_, err := execute(c, func() (struct{}, error) {
		body := map[string]string{"backup_id": backupID}
		return struct{}{}, c.control(ctx, "complete", http.MethodPost, c.uploadURL("complete", nil), body, nil)
	})
	return err
}

// Fail marks the backup as failed with message.
func (c *Client) Fail(ctx context.Context, backupID, message string) error {
	_, err := execute(c, func() (struct{}, error) {
		body := map[string]string{"backup_id": backupID, "error_message": message}
		return struct{}{}, c.control(ctx, "fail", http.MethodPost, c.uploadURL("fail", nil), body, nil)
	})
	return err
}

// List returns the account's archived backups, newest first.
func (c *Client) List(ctx context.Context) ([]RemoteBackup, error) {
	return execute(c, func() ([]RemoteBackup, error) {
		var data listData
		if err := c.control(ctx, "list", http.MethodGet, c.baseURL+"/"+c.listFunction, nil, &data); err != nil {
			return nil, err
		}
		return data.Backups, nil
	})
}

// Chunk sends one chunk. number is 1-based; offset is the chunk's first byte
// within the whole stream.
func (c *Client) Chunk(ctx context.Context, backupID string, number int, offset int64, data []byte) error {
	u := c.uploadURL("chunk", url.Values{
		"backup_id":    {backupID},
		"chunk_number": {itoa(int64(number))},
		"offset":       {itoa(offset)},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create chunk request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", contentTypeTar)
	return c.transfer(req, "chunk")
}

// Put streams the whole body to a presigned URL. The URL is the credential,
// so no API key is sent.
func (c *Client) Put(ctx context.Context, uploadURL string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("failed to create presigned request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentTypeTar)
	return c.transfer(req, "put")
}

// TabularUpload streams the whole body into the row created by init.
func (c *Client) TabularUpload(ctx context.Context, backupID, rowID string, body io.Reader, size int64) error {
	u := c.uploadURL("upload", url.Values{
		"backup_id": {backupID},
		"row_id":    {rowID},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("failed to create tabular upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", contentTypeTar)
	return c.transfer(req, "upload")
}

func (c *Client) uploadURL(action string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("action", action)
	return c.baseURL + "/" + c.uploadFunction + "?" + q.Encode()
}

// control performs a JSON request bounded by the per-call timeout.
func (c *Client) control(ctx context.Context, op, method, u string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read backend %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: truncate(errorMessage(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode backend %s response: %w", op, err)
	}
	return nil
}

func (c *Client) transfer(req *http.Request, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

func truncate(s string) string {
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize]
	}
	return s
}
