// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	okBefore := testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "success"))
	failBefore := testutil.ToFloat64(RunsTotal.WithLabelValues("scheduled", "failure"))
	kindBefore := testutil.ToFloat64(RunFailures.WithLabelValues("job_failed"))

	RecordRun("manual", true, "", time.Minute)
	RecordRun("scheduled", false, "job_failed", 2*time.Minute)

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "success")); got != okBefore+1 {
		t.Errorf("expected manual success count %v, got %v", okBefore+1, got)
	}
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("scheduled", "failure")); got != failBefore+1 {
		t.Errorf("expected scheduled failure count %v, got %v", failBefore+1, got)
	}
	if got := testutil.ToFloat64(RunFailures.WithLabelValues("job_failed")); got != kindBefore+1 {
		t.Errorf("expected job_failed count %v, got %v", kindBefore+1, got)
	}
}

func TestRecordRejectedRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "rejected"))
	RecordRejectedRun("manual")
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "rejected")); got != before+1 {
		t.Errorf("expected rejected count %v, got %v", before+1, got)
	}
}

func TestRecordChunk(t *testing.T) {
	chunksBefore := testutil.ToFloat64(UploadChunks.WithLabelValues("chunked"))
	bytesBefore := testutil.ToFloat64(UploadBytes.WithLabelValues("chunked"))

	RecordChunk("chunked", 1024)
	RecordChunk("chunked", 512)

	if got := testutil.ToFloat64(UploadChunks.WithLabelValues("chunked")); got != chunksBefore+2 {
		t.Errorf("expected %v chunks, got %v", chunksBefore+2, got)
	}
	if got := testutil.ToFloat64(UploadBytes.WithLabelValues("chunked")); got != bytesBefore+1536 {
		t.Errorf("expected %v bytes, got %v", bytesBefore+1536, got)
	}
}

func TestRecordSourceRequest(t *testing.T) {
	tests := []struct {
		name   string
		status int
		label  string
	}{
		{"ok", 200, "200"},
		{"not found", 404, "404"},
		{"transport error", 0, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(SourceRequests.WithLabelValues("list", tt.label))
			RecordSourceRequest("list", tt.status)
			if got := testutil.ToFloat64(SourceRequests.WithLabelValues("list", tt.label)); got != before+1 {
				t.Errorf("expected %v, got %v", before+1, got)
			}
		})
	}
}
