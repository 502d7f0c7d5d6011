package tftp

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Response adapts a RRQ handler's return value into the chunks an
// Outbound engine sends (spec §4.6). Prepare drives the whole body
// through out except for StreamResponse, whose handler drives writes
// itself; WriteEOF always flushes anything still buffered.
type Response interface {
	Prepare(ctx context.Context, req *Request, out *Outbound) error
	WriteEOF(ctx context.Context) error
	Length() uint64
}

// StreamResponse lets a handler push bytes to the client as they
// become available, rather than handing over the whole body up front.
// Writes are buffered and flushed in whole 512-byte chunks; WriteEOF
// flushes the trailing partial chunk, sending an explicit empty DATA
// block if the total happens to be an exact multiple of 512.
type StreamResponse struct {
	mu      sync.Mutex
	out     *Outbound
	buffer  []byte
	eofSent bool
	length  uint64
}

// NewStreamResponse returns a Response a handler drives manually via
// Write/WriteEOF, obtained from the ReadHandler before any data exists.
func NewStreamResponse() *StreamResponse {
	return &StreamResponse{}
}

func (r *StreamResponse) Prepare(ctx context.Context, req *Request, out *Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
	return nil
}

// Write buffers data and flushes any whole 512-byte chunks accumulated
// so far. It is safe to call Write after Prepare has returned but
// never after WriteEOF.
func (r *StreamResponse) Write(ctx context.Context, data []byte) error {
	r.mu.Lock()
	if r.eofSent {
		r.mu.Unlock()
		return errors.Wrap(ErrIllegalState, "Write called after WriteEOF")
	}
	if r.out == nil {
		r.mu.Unlock()
		return errors.Wrap(ErrIllegalState, "Write called before Prepare")
	}
	r.buffer = append(r.buffer, data...)

	for len(r.buffer) >= maxPayload {
		chunk := r.buffer[:maxPayload]
		r.buffer = r.buffer[maxPayload:]
		out := r.out
		r.mu.Unlock()

		if err := out.Write(ctx, chunk); err != nil {
			return err
		}

		r.mu.Lock()
		r.length += maxPayload
	}
	r.mu.Unlock()
	return nil
}

func (r *StreamResponse) WriteEOF(ctx context.Context) error {
	r.mu.Lock()
	if r.eofSent {
		r.mu.Unlock()
		return nil
	}
	if r.out == nil {
		r.mu.Unlock()
		return errors.Wrap(ErrIllegalState, "WriteEOF called before Prepare")
	}
	trailing := r.buffer
	r.buffer = nil
	out := r.out
	r.eofSent = true
	r.mu.Unlock()

	if err := out.Write(ctx, trailing); err != nil {
		return err
	}

	r.mu.Lock()
	r.length += uint64(len(trailing))
	r.mu.Unlock()
	return nil
}

func (r *StreamResponse) Length() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// BytesResponse serves a fixed in-memory payload, sliced into
// <=512-byte DATA blocks. An empty payload still produces one empty
// final block, and a payload that is an exact multiple of 512 bytes
// produces a trailing empty block so the receiver sees a short read.
type BytesResponse struct {
	data   []byte
	length uint64
}

// NewBytesResponse returns a Response serving data verbatim.
func NewBytesResponse(data []byte) *BytesResponse {
	return &BytesResponse{data: data}
}

func (r *BytesResponse) Prepare(ctx context.Context, req *Request, out *Outbound) error {
	body := r.data
	for {
		n := len(body)
		if n > maxPayload {
			n = maxPayload
		}
		chunk := body[:n]
		body = body[n:]

		if err := out.Write(ctx, chunk); err != nil {
			return err
		}
		r.length += uint64(len(chunk))

		if len(chunk) < maxPayload {
			return nil
		}
	}
}

func (r *BytesResponse) WriteEOF(ctx context.Context) error { return nil }
func (r *BytesResponse) Length() uint64                     { return r.length }

// FileResponse streams a file from disk in <=512-byte chunks. Prepare
// returns ErrFileNotFound, wrapped, if path does not exist; the
// listener translates that into a wire Error(FileNotFound, ...).
type FileResponse struct {
	path      string
	chunkSize int
	length    uint64
}

// NewFileResponse returns a Response serving the contents of path.
func NewFileResponse(path string) *FileResponse {
	return &FileResponse{path: path}
}

func (r *FileResponse) Prepare(ctx context.Context, req *Request, out *Outbound) error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrFileNotFound, err.Error())
		}
		return errors.Wrap(err, "tftp: open response file")
	}
	defer f.Close()

	chunkSize := r.chunkSize
	if chunkSize <= 0 {
		chunkSize = maxPayload
	}
	if req != nil && req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	buf := make([]byte, chunkSize)

	for {
		n, rerr := f.Read(buf)
		if rerr != nil && rerr != io.EOF {
			return errors.Wrap(rerr, "tftp: read response file")
		}
		chunk := append([]byte(nil), buf[:n]...)
		if werr := out.Write(ctx, chunk); werr != nil {
			return werr
		}
		r.length += uint64(n)
		if n < chunkSize {
			return nil
		}
	}
}

func (r *FileResponse) WriteEOF(ctx context.Context) error { return nil }
func (r *FileResponse) Length() uint64                     { return r.length }
