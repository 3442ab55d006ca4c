// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package source

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// JobState is the normalized state of a Supervisor job.
type JobState string

// Job states. Anything the Supervisor reports that does not map onto one of
// the first four becomes JobUnknown.
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobUnknown   JobState = "unknown"
)

// CreateResult is the answer to a backup creation request. Exactly one of
// JobID or Slug is set when the Supervisor accepted the request; both are
// empty when it returned neither.
type CreateResult struct {
	JobID string
	Slug  string
}

// Job is one poll result for an asynchronous backup job.
type Job struct {
	ID        string
	State     JobState
	Progress  int
	Reference string
	Errors    []string
}

// ErrorDetail joins the job's error messages for logging.
func (j Job) ErrorDetail() string {
	if len(j.Errors) == 0 {
		return "no error detail reported"
	}
	return strings.Join(j.Errors, "; ")
}

// Snapshot is one entry of the local backup listing.
type Snapshot struct {
	Slug string  `json:"slug"`
	Name string  `json:"name"`
	Date string  `json:"date"`
	Size float64 `json:"size"` // MB, as reported by the Supervisor
}

// Info holds the metadata used for upload bookkeeping.
type Info struct {
	SourceVersion string
	SizeBytes     int64
}

// Download is an open backup stream. The caller must Close Body.
type Download struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 when the Supervisor did not declare one
}

// StatusError is a non-2xx response, or a 2xx response whose envelope
// reported result != "ok".
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supervisor %s request failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the Supervisor.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

// envelope is the wrapper every Supervisor response uses.
type envelope struct {
	Result  string          `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	JobID string `json:"job_id"`
	Slug  string `json:"slug"`
}

type jobData struct {
	UUID      string            `json:"uuid"`
	State     string            `json:"state"`
	Done      *bool             `json:"done"`
	Progress  float64           `json:"progress"`
	Reference string            `json:"reference"`
	Errors    []json.RawMessage `json:"errors"`
}

type listData struct {
	Backups   []Snapshot `json:"backups"`
	Snapshots []Snapshot `json:"snapshots"`
}

type infoData struct {
	HomeAssistant string  `json:"homeassistant"`
	Size          float64 `json:"size"`
	SizeBytes     int64   `json:"size_bytes"`
}

type coreInfoData struct {
	Version string `json:"version"`
}

// normalize maps the Supervisor's job payload onto a Job. An explicit state
// string wins; otherwise the done flag and error list decide.
func (d jobData) normalize(id string) Job {
	job := Job{
		ID:        id,
		Progress:  int(d.Progress),
		Reference: d.Reference,
		Errors:    decodeJobErrors(d.Errors),
	}

	switch strings.ToLower(d.State) {
	case "completed", "done":
		job.State = JobCompleted
	case "failed", "error":
		job.State = JobFailed
	case "queued", "pending":
		job.State = JobQueued
	case "running", "in_progress":
		job.State = JobRunning
	case "":
		switch {
		case d.Done == nil:
			job.State = JobUnknown
		case !*d.Done:
			job.State = JobRunning
		case len(job.Errors) > 0:
			job.State = JobFailed
		default:
			job.State = JobCompleted
		}
	default:
		job.State = JobUnknown
	}
	return job
}

// decodeJobErrors accepts both plain strings and {type, message} objects.
func decodeJobErrors(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(r, &obj); err == nil && (obj.Message != "" || obj.Type != "") {
			if obj.Type != "" && obj.Message != "" {
				out = append(out, obj.Type+": "+obj.Message)
			} else {
				out = append(out, obj.Type+obj.Message)
			}
			continue
		}
		out = append(out, string(r))
	}
	return out
}
