// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package configsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

type fakeFile struct {
	sha     string
	content []byte
}

// fakeGitHub serves the contents API for one repository.
type fakeGitHub struct {
	mu      sync.Mutex
	files   map[string]fakeFile
	puts    []putRequest
	failPut map[string]bool
	auth    []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{files: map[string]fakeFile{}, failPut: map[string]bool{}}
}

func (g *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auth = append(g.auth, r.Header.Get("Authorization"))

	const prefix = "/repos/owner/ha-config/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodGet:
		f, ok := g.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		enc := base64.StdEncoding.EncodeToString(f.content)
		// GitHub wraps at 60 columns.
		var wrapped strings.Builder
		for i := 0; i < len(enc); i += 60 {
			end := min(i+60, len(enc))
			wrapped.WriteString(enc[i:end] + "\n")
		}
		_ = json.NewEncoder(w).Encode(contentResponse{SHA: f.sha, Content: wrapped.String(), Encoding: "base64"})

	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.puts = append(g.puts, req)
		if g.failPut[path] {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"sha mismatch"}`))
			return
		}
		data, _ := base64.StdEncoding.DecodeString(req.Content)
		g.files[path] = fakeFile{sha: fmt.Sprintf("sha-%d", len(g.puts)), content: data}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}
}

func newTestSyncer(t *testing.T, gh *fakeGitHub, files map[string]string) *Syncer {
	t.Helper()
	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	cfg := config.ConfigSyncConfig{
		Enabled: true,
		Token:   "ghp_test",
		Repo:    "owner/ha-config",
		Branch:  "main",
		Files:   paths,
		APIURL:  srv.URL,
		Timeout: 5 * time.Second,
	}
	return New(cfg, WithReadFile(func(p string) ([]byte, error) {
		c, ok := files[p]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return []byte(c), nil
	}))
}

func TestSyncCreatesNewFile(t *testing.T) {
	gh := newFakeGitHub()
	s := newTestSyncer(t, gh, map[string]string{"/config/configuration.yaml": "homeassistant:\n  name: Home\n"})

	res, err := s.Sync(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Committed) != 1 || res.Committed[0] != "config/configuration.yaml" {
		t.Errorf("expected config/configuration.yaml committed, got %+v", res)
	}
	if len(gh.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(gh.puts))
	}
	put := gh.puts[0]
	if put.SHA != "" {
		t.Errorf("expected no sha for a new file, got %q", put.SHA)
	}
	if put.Branch != "main" || !strings.Contains(put.Message, "run-1") {
		t.Errorf("unexpected put request: %+v", put)
	}
	if got := string(gh.files["config/configuration.yaml"].content); got != "homeassistant:\n  name: Home\n" {
		t.Errorf("unexpected committed content %q", got)
	}
	for _, a := range gh.auth {
		if a != "Bearer ghp_test" {
			t.Errorf("expected bearer token, got %q", a)
		}
	}
}

func TestSyncUpdatesWithSHA(t *testing.T) {
	gh := newFakeGitHub()
	gh.files["config/automations.yaml"] = fakeFile{sha: "abc123", content: []byte("old")}
	s := newTestSyncer(t, gh, map[string]string{"/config/automations.yaml": "new"})

	if _, err := s.Sync(context.Background(), "run-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gh.puts) != 1 || gh.puts[0].SHA != "abc123" {
		t.Fatalf("expected PUT with previous sha abc123, got %+v", gh.puts)
	}
}

func TestSyncSkipsUnchanged(t *testing.T) {
	gh := newFakeGitHub()
	long := strings.Repeat("sensor: !include sensors.yaml\n", 10)
	gh.files["config/configuration.yaml"] = fakeFile{sha: "s1", content: []byte(long)}
	s := newTestSyncer(t, gh, map[string]string{"/config/configuration.yaml": long})

	res, err := s.Sync(context.Background(), "run-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gh.puts) != 0 {
		t.Errorf("expected no PUT for unchanged content, got %d", len(gh.puts))
	}
	if len(res.Unchanged) != 1 {
		t.Errorf("expected 1 unchanged file, got %+v", res)
	}
}

func TestSyncFailureIsSideEffect(t *testing.T) {
	gh := newFakeGitHub()
	gh.failPut["config/bad.yaml"] = true
	s := newTestSyncer(t, gh, map[string]string{
		"/config/bad.yaml":  "x",
		"/config/good.yaml": "y",
	})

	res, err := s.Sync(context.Background(), "run-4")
	if !runerr.Is(err, runerr.KindSideEffect) {
		t.Fatalf("expected side_effect_error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict || se.Message != "sha mismatch" {
		t.Errorf("expected wrapped 409 StatusError, got %v", err)
	}
	if len(res.Committed) != 1 || res.Committed[0] != "config/good.yaml" {
		t.Errorf("expected the good file to still be committed, got %+v", res)
	}
}

func TestSyncMissingLocalFile(t *testing.T) {
	gh := newFakeGitHub()
	s := newTestSyncer(t, gh, map[string]string{})
	s.cfg.Files = []string{"/config/missing.yaml"}

	_, err := s.Sync(context.Background(), "run-5")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error in chain, got %v", err)
	}
}

func TestRepoPath(t *testing.T) {
	tests := map[string]string{
		"/config/configuration.yaml": "config/configuration.yaml",
		"config/./scripts.yaml":      "config/scripts.yaml",
		"//config//x.yaml":           "config/x.yaml",
	}
	for in, want := range tests {
		if got := RepoPath(in); got != want {
			t.Errorf("RepoPath(%q): expected %q, got %q", in, want, got)
		}
	}
}
