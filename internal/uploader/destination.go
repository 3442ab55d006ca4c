// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
)

type progress struct {
	sent   int64
	chunks int
}

// destination moves size bytes from r into an initialized upload.
type destination interface {
	transfer(ctx context.Context, backupID string, r io.Reader, size int64) (progress, error)
}

func (u *Uploader) destination(resp *backend.InitResponse) (destination, error) {
	d := resp.Destination
	switch d.Kind {
	case backend.KindPresigned:
		return &presignedDestination{be: u.be, url: d.UploadURL}, nil
	case backend.KindChunked:
		return &chunkedDestination{be: u.be, chunkSize: u.chunkSize}, nil
	case backend.KindTabular:
		return &tabularDestination{be: u.be, rowID: d.RowID}, nil
	default:
		return nil, fmt.Errorf("unsupported destination kind %q", d.Kind)
	}
}

// TransferError pinpoints where a transfer stopped.
type TransferError struct {
	ChunkNumber int
	Offset      int64
	BytesSent   int64
	Err         error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("chunk %d at offset %d (bytes sent %d): %v", e.ChunkNumber, e.Offset, e.BytesSent, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// errShortStream marks a source that ended before the announced size.
var errShortStream = errors.New("stream ended before the announced size")

// chunkedDestination posts fixed-size chunks one after another. The final
// chunk carries the remainder.
type chunkedDestination struct {
	be        Backend
	chunkSize int64
}

func (d *chunkedDestination) transfer(ctx context.Context, backupID string, r io.Reader, size int64) (progress, error) {
	var p progress
	buf := make([]byte, min(d.chunkSize, size))
	total := ChunkCount(size, d.chunkSize)
	log := logging.Ctx(ctx)

	for number := 1; p.sent < size; number++ {
		offset := p.sent
		want := min(d.chunkSize, size-offset)
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: read %d of %d bytes", errShortStream, offset+int64(n), size)
			}
			return p, &TransferError{ChunkNumber: number, Offset: offset, BytesSent: p.sent, Err: err}
		}

		if err := d.be.Chunk(ctx, backupID, number, offset, buf[:n]); err != nil {
			return p, &TransferError{ChunkNumber: number, Offset: offset, BytesSent: p.sent, Err: err}
		}
		p.sent += int64(n)
		p.chunks++
		metrics.RecordChunk(string(backend.KindChunked), int64(n))
		log.Debug().Int("chunk", number).Int("of", total).Int64("offset", offset).Int("bytes", n).Msg("Chunk uploaded")
	}
	return p, nil
}

// presignedDestination streams the whole body in one PUT.
type presignedDestination struct {
	be  Backend
	url string
}

func (d *presignedDestination) transfer(ctx context.Context, _ string, r io.Reader, size int64) (progress, error) {
	return streamWhole(string(backend.KindPresigned), r, size, func(body io.Reader) error {
		return d.be.Put(ctx, d.url, body, size)
	})
}

// tabularDestination streams the whole body into the row from init.
type tabularDestination struct {
	be    Backend
	rowID string
}

func (d *tabularDestination) transfer(ctx context.Context, backupID string, r io.Reader, size int64) (progress, error) {
	return streamWhole(string(backend.KindTabular), r, size, func(body io.Reader) error {
		return d.be.TabularUpload(ctx, backupID, d.rowID, body, size)
	})
}

func streamWhole(kind string, r io.Reader, size int64, send func(io.Reader) error) (progress, error) {
	cr := &countingReader{r: r}
	err := send(cr)
	if err == nil && cr.n < size {
		err = fmt.Errorf("%w: read %d of %d bytes", errShortStream, cr.n, size)
	} else if err != nil && cr.eof && cr.n < size {
		err = fmt.Errorf("%w: read %d of %d bytes: %w", errShortStream, cr.n, size, err)
	}
	if err != nil {
		return progress{sent: cr.n}, &TransferError{ChunkNumber: 1, Offset: 0, BytesSent: cr.n, Err: err}
	}
	metrics.RecordChunk(kind, cr.n)
	return progress{sent: cr.n, chunks: 1}, nil
}
