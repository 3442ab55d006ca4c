// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package uploader streams a snapshot to the HomeSafe backend.
//
// Every upload follows the same envelope: init announces the size and gets
// back a backup ID plus a destination, the destination moves the bytes, and
// complete (or fail) closes the record. Only the transfer step differs per
// destination kind. The source stream is read once, front to back, and at
// most one chunk is held in memory.
package uploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/locator"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

// DefaultChunkSize is 50 MiB.
const DefaultChunkSize int64 = 50 * 1024 * 1024

// DefaultTransferTimeout bounds one whole transfer.
const DefaultTransferTimeout = 30 * time.Minute

// failNotifyTimeout bounds the best-effort fail call after the run context
// is gone.
const failNotifyTimeout = 15 * time.Second

// Backend is the subset of the backend client the uploader drives.
type Backend interface {
	Init(ctx context.Context, req backend.InitRequest) (*backend.InitResponse, error)
	Chunk(ctx context.Context, backupID string, number int, offset int64, data []byte) error
	Put(ctx context.Context, uploadURL string, body io.Reader, size int64) error
	TabularUpload(ctx context.Context, backupID, rowID string, body io.Reader, size int64) error
	Complete(ctx context.Context, backupID string) error
	Fail(ctx context.Context, backupID, message string) error
}

// Stream is the snapshot byte source. Length is the declared length, or 0
// when the source did not report one.
type Stream struct {
	Body   io.Reader
	Length int64
}

// Meta travels with init.
type Meta struct {
	SourceVersion string
	Trigger       string
}

// Result describes a finished upload.
type Result struct {
	BackupID   string
	Kind       backend.Kind
	SizeBytes  int64
	BytesSent  int64
	ChunkCount int
	Duration   time.Duration
}

// Uploader runs uploads. Safe for sequential reuse.
type Uploader struct {
	be              Backend
	chunkSize       int64
	transferTimeout time.Duration
	limiter         *rate.Limiter
	clock           clock.Clock
}

// New creates an Uploader from cfg. A zero ChunkSize or TransferTimeout takes
// the package default.
func New(be Backend, cfg config.UploadConfig, clk clock.Clock) *Uploader {
	if clk == nil {
		clk = clock.WallClock
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	timeout := cfg.TransferTimeout
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Uploader{
		be:              be,
		chunkSize:       chunk,
		transferTimeout: timeout,
		limiter:         newLimiter(cfg.MaxBytesPerSecond),
		clock:           clk,
	}
}

// ResolveSize prefers the stream's declared length and falls back to the
// size the locator fetched. Neither being positive is SizeUndeterminable.
func ResolveSize(declared, fromInfo int64) (int64, error) {
	switch {
	case declared > 0:
		return declared, nil
	case fromInfo > 0:
		return fromInfo, nil
	}
	return 0, runerr.Newf(runerr.KindSizeUndeterminable, "upload",
		"stream declared no length and snapshot info reported size %d", fromInfo)
}

// ChunkCount is ceil(size/chunk).
func ChunkCount(size, chunk int64) int {
	if size <= 0 || chunk <= 0 {
		return 0
	}
	return int((size + chunk - 1) / chunk)
}

// Upload streams s to the backend for snapshot h.
func (u *Uploader) Upload(ctx context.Context, h locator.Handle, s Stream, meta Meta) (Result, error) {
	start := u.clock.Now()
	log := logging.Ctx(ctx).With().Str("slug", h.Slug).Logger()

	size, err := ResolveSize(s.Length, h.SizeBytes)
	if err != nil {
		return Result{}, err
	}

	version := meta.SourceVersion
	if version == "" {
		version = "unknown"
	}
	initResp, err := u.be.Init(ctx, backend.InitRequest{FileSize: size, SourceVersion: version, Trigger: meta.Trigger})
	if err != nil {
		return Result{}, runerr.New(runerr.KindUpstreamRejected, "init", "backend refused to open upload", err)
	}

	res := Result{BackupID: initResp.BackupID, Kind: initResp.Destination.Kind, SizeBytes: size}
	log = log.With().Str("backup_id", res.BackupID).Str("destination", string(res.Kind)).Logger()
	log.Info().Int64("size_bytes", size).Msg("Upload initialized")

	dest, err := u.destination(initResp)
	if err != nil {
		u.notifyFailure(ctx, res.BackupID, err.Error())
		return res, runerr.New(runerr.KindUpstreamRejected, "init", "unusable destination", err)
	}

	tctx, cancel := context.WithTimeout(ctx, u.transferTimeout)
	// A stalled source read only returns once the stream is closed.
	stopClose := func() bool { return false }
	if c, ok := s.Body.(io.Closer); ok {
		stopClose = context.AfterFunc(tctx, func() { _ = c.Close() })
	}
	src := io.LimitReader(&deadlineReader{r: s.Body, ctx: tctx}, size)
	if u.limiter != nil {
		src = &throttledReader{r: src, limiter: u.limiter, ctx: tctx}
	}
	prog, terr := dest.transfer(tctx, res.BackupID, src, size)
	stopClose()
	if terr != nil && tctx.Err() != nil {
		terr = fmt.Errorf("transfer exceeded %s: %w: %w", u.transferTimeout, tctx.Err(), terr)
	}
	cancel()
	res.BytesSent = prog.sent
	res.ChunkCount = prog.chunks

	if terr == nil {
		terr = checkExhausted(s.Body, size)
	}
	if terr != nil {
		u.notifyFailure(ctx, res.BackupID, terr.Error())
		return res, runerr.New(runerr.KindChunkTransfer, "transfer",
			fmt.Sprintf("upload aborted after %d of %d bytes", res.BytesSent, size), terr)
	}

	if err := u.be.Complete(ctx, res.BackupID); err != nil {
		return res, runerr.New(runerr.KindAmbiguousCompletion, "complete",
			fmt.Sprintf("all %d bytes sent but completion was not acknowledged", res.BytesSent), err)
	}

	res.Duration = u.clock.Now().Sub(start)
	log.Info().
		Int64("bytes_sent", res.BytesSent).
		Int("chunks", res.ChunkCount).
		Dur("duration", res.Duration).
		Msg("Upload completed")
	return res, nil
}

// notifyFailure tells the backend the upload is dead. Best effort: a
// cancelled run still gets its notification and the outcome never changes.
func (u *Uploader) notifyFailure(ctx context.Context, backupID, message string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failNotifyTimeout)
	defer cancel()
	if err := u.be.Fail(fctx, backupID, message); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("backup_id", backupID).Msg("Failed to notify backend of upload failure")
	}
}

// deadlineReader refuses reads once ctx is done.
type deadlineReader struct {
	r   io.Reader
	ctx context.Context
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	return d.r.Read(p)
}

// checkExhausted probes one byte past size. A stream longer than the size
// announced at init would leave a truncated archive behind.
func checkExhausted(r io.Reader, size int64) error {
	var probe [1]byte
	n, err := io.ReadFull(r, probe[:])
	if n > 0 {
		return fmt.Errorf("stream continues past the announced %d bytes", size)
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading stream end: %w", err)
	}
	return nil
}

type countingReader struct {
	r   io.Reader
	n   int64
	eof bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err == io.EOF {
		c.eof = true
	}
	return n, err
}
