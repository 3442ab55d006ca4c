// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package configsync commits Home Assistant configuration files to a GitHub
// repository after a successful backup. It is a side channel: failures are
// reported as runerr.KindSideEffect and never change a run's outcome.
package configsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

const maxErrorBodySize = 16 * 1024

// Result lists what a sync did per file.
type Result struct {
	Committed []string
	Unchanged []string
}

// Syncer pushes local files through the GitHub contents API.
type Syncer struct {
	cfg        config.ConfigSyncConfig
	apiURL     string
	httpClient *http.Client
	readFile   func(string) ([]byte, error)
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Syncer) { s.httpClient = hc }
}

// WithReadFile replaces the file reader (tests serve files from memory).
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(s *Syncer) { s.readFile = fn }
}

// New creates a Syncer.
func New(cfg config.ConfigSyncConfig, opts ...Option) *Syncer {
	s := &Syncer{
		cfg:        cfg,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		readFile:   os.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether sync is configured on.
func (s *Syncer) Enabled() bool {
	return s.cfg.Enabled
}

// Sync commits every configured file that differs from the branch head.
// One commit per file. Errors for individual files do not stop the others.
func (s *Syncer) Sync(ctx context.Context, runID string) (Result, error) {
	var (
		res  Result
		errs []error
	)
	log := logging.Ctx(ctx)

	for _, local := range s.cfg.Files {
		repoPath := RepoPath(local)
		changed, err := s.syncFile(ctx, local, repoPath, runID)
		switch {
		case err != nil:
			metrics.ConfigSyncTotal.WithLabelValues("failure").Inc()
			log.Warn().Err(err).Str("file", local).Msg("Config sync failed for file")
			errs = append(errs, fmt.Errorf("%s: %w", local, err))
		case changed:
			metrics.ConfigSyncTotal.WithLabelValues("committed").Inc()
			log.Info().Str("file", local).Str("path", repoPath).Str("repo", s.cfg.Repo).Msg("Config file committed")
			res.Committed = append(res.Committed, repoPath)
		default:
			metrics.ConfigSyncTotal.WithLabelValues("unchanged").Inc()
			res.Unchanged = append(res.Unchanged, repoPath)
		}
	}

	if len(errs) > 0 {
		return res, runerr.New(runerr.KindSideEffect, "side_sync",
			fmt.Sprintf("%d of %d config files failed to sync", len(errs), len(s.cfg.Files)), errors.Join(errs...))
	}
	return res, nil
}

// RepoPath maps a local file to its path inside the repository.
func RepoPath(local string) string {
	return strings.TrimLeft(filepath.ToSlash(filepath.Clean(local)), "/")
}

func (s *Syncer) syncFile(ctx context.Context, local, repoPath, runID string) (bool, error) {
	content, err := s.readFile(local)
	if err != nil {
		return false, fmt.Errorf("read local file: %w", err)
	}

	current, err := s.getContent(ctx, repoPath)
	if err != nil {
		return false, err
	}
	if current.exists && bytes.Equal(current.data, content) {
		return false, nil
	}

	body := putRequest{
		Message: fmt.Sprintf("HomeSafe: sync %s (run %s)", repoPath, runID),
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  s.cfg.Branch,
		SHA:     current.sha,
	}
	if err := s.do(ctx, http.MethodPut, s.contentsURL(repoPath, ""), body, nil); err != nil {
		return false, err
	}
	return true, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type remoteFile struct {
	exists bool
	sha    string
	data   []byte
}

// getContent fetches the file at the branch head. A 404 means the file does
// not exist yet and will be created.
func (s *Syncer) getContent(ctx context.Context, repoPath string) (remoteFile, error) {
	var cr contentResponse
	err := s.do(ctx, http.MethodGet, s.contentsURL(repoPath, s.cfg.Branch), nil, &cr)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return remoteFile{}, nil
		}
		return remoteFile{}, err
	}

	rf := remoteFile{exists: true, sha: cr.SHA}
	if cr.Encoding == "base64" {
		// GitHub wraps base64 content at 60 columns.
		if data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", "")); err == nil {
			rf.data = data
		}
	}
	return rf, nil
}

func (s *Syncer) contentsURL(repoPath, ref string) string {
	segments := strings.Split(repoPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := fmt.Sprintf("%s/repos/%s/contents/%s", s.apiURL, s.cfg.Repo, strings.Join(segments, "/"))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	return u
}

// StatusError is a non-2xx answer from GitHub.
type StatusError struct {
	Method     string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github %s returned %d: %s", e.Method, e.StatusCode, e.Message)
}

func (s *Syncer) do(ctx context.Context, method, u string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{Method: method, StatusCode: resp.StatusCode, Message: githubMessage(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func githubMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
