// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package backend

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Kind is the destination strategy announced by init.
type Kind string

// Destination kinds. The set is closed.
const (
	KindPresigned Kind = "presigned"
	KindChunked   Kind = "chunked"
	KindTabular   Kind = "tabular"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPresigned, KindChunked, KindTabular:
		return true
	}
	return false
}

// InitRequest describes the stream about to be uploaded.
type InitRequest struct {
	FileSize      int64  `json:"file_size"`
	SourceVersion string `json:"ha_version"`
	Trigger       string `json:"backup_trigger"`
}

// Destination tells the uploader where the bytes go.
type Destination struct {
	Kind        Kind
	UploadURL   string // presigned
	StoragePath string // chunked
	RowID       string // tabular
}

// InitResponse is a decoded init answer with its destination resolved.
type InitResponse struct {
	BackupID    string
	Destination Destination
}

type initData struct {
	Success     *bool      `json:"success"`
	Error       string     `json:"error"`
	BackupID    flexString `json:"backup_id"`
	Destination string     `json:"destination"`
	UploadURL   string     `json:"upload_url"`
	StoragePath string     `json:"storage_path"`
	RowID       flexString `json:"row_id"`
}

// resolve picks the destination kind. An explicit destination field wins,
// then upload_url, row_id and storage_path in that order.
func (d initData) resolve() (*InitResponse, error) {
	if d.Success != nil && !*d.Success {
		msg := d.Error
		if msg == "" {
			msg = "init reported success=false"
		}
		return nil, errors.New(msg)
	}
	if d.BackupID == "" {
		return nil, errors.New("init response has no backup_id")
	}

	dest := Destination{
		UploadURL:   d.UploadURL,
		StoragePath: d.StoragePath,
		RowID:       string(d.RowID),
	}
	switch {
	case d.Destination != "":
		dest.Kind = Kind(d.Destination)
		if !dest.Kind.Valid() {
			return nil, fmt.Errorf("init response names unknown destination %q", d.Destination)
		}
	case d.UploadURL != "":
		dest.Kind = KindPresigned
	case d.RowID != "":
		dest.Kind = KindTabular
	case d.StoragePath != "":
		dest.Kind = KindChunked
	default:
		return nil, errors.New("init response carries no destination descriptor")
	}

	switch {
	case dest.Kind == KindPresigned && dest.UploadURL == "":
		return nil, errors.New("presigned destination without upload_url")
	case dest.Kind == KindTabular && dest.RowID == "":
		return nil, errors.New("tabular destination without row_id")
	}
	return &InitResponse{BackupID: string(d.BackupID), Destination: dest}, nil
}

// RemoteBackup is one archived backup as listed by the backend.
type RemoteBackup struct {
	ID            flexString `json:"id"`
	Filename      string     `json:"filename"`
	SizeBytes     int64      `json:"size_bytes"`
	SourceVersion string     `json:"ha_version"`
	Trigger       string     `json:"backup_trigger"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type listData struct {
	Backups []RemoteBackup `json:"backups"`
}

// flexString accepts a JSON string or number. Backend IDs are UUIDs but
// tabular row IDs are integers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if hint := statusHint(e.Op, e.StatusCode); hint != "" {
		return fmt.Sprintf("backend %s returned %d (%s): %s", e.Op, e.StatusCode, hint, e.Message)
	}
	return fmt.Sprintf("backend %s returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsClientError reports whether the backend rejected the request itself.
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func statusHint(op string, code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "invalid or revoked API key"
	case http.StatusRequestEntityTooLarge:
		if op == "init" {
			return "backup exceeds plan size"
		}
	case http.StatusTooManyRequests:
		if op == "init" {
			return "backup count limit reached"
		}
	case http.StatusNotFound:
		return "backup not found"
	}
	return ""
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// errorMessage pulls {"error": "..."} out of a backend error body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}

// itoa is strconv.FormatInt for query strings.
func itoa(n int64) string { return strconv.FormatInt(n, 10) }
