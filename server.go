package tftp

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ReadHandler answers a RRQ. It is invoked once per transfer; the
// returned Response is then driven through a freshly opened ephemeral
// engine (spec §4.5).
type ReadHandler func(ctx context.Context, req *Request) (Response, error)

// WriteHandler answers a WRQ. The inbound stream is already running by
// the time the handler is invoked; it is retrieved with req.Accept().
type WriteHandler func(ctx context.Context, req *Request) error

// AccessLogger is the injected collaborator that records one line per
// completed transfer (spec §9: "expose them as injected collaborators
// rather than module-level state"). internal/accesslog implements it.
type AccessLogger interface {
	Log(req *Request, length uint64, duration time.Duration, err error)
}

// Request describes one dispatched transfer. Filename, Remote and
// Method are always populated; Accept is only meaningful for a WRQ.
type Request struct {
	Filename  string
	Remote    TID
	Method    Opcode
	TraceID   string
	ChunkSize int

	stream *Stream
}

// Accept returns the byte stream an inbound (WRQ) transfer is already
// feeding. Calling it on a RRQ request returns nil.
func (r *Request) Accept() *Stream {
	return r.stream
}

// ReadAll drains the accepted stream to completion, a convenience for
// handlers that want the whole body rather than processing chunks.
func (r *Request) ReadAll() ([]byte, error) {
	s := r.Accept()
	if s == nil {
		return nil, errors.Wrap(ErrIllegalState, "ReadAll called on a non-WRQ request")
	}
	var out []byte
	buf := make([]byte, maxPayload)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
	}
}

// Server is the TFTP listener bound to the well-known address. All
// DATA/ACK traffic for a dispatched transfer flows on a fresh
// ephemeral port; the listener socket only ever carries the opening
// Request and server-originated Errors (spec §4.5).
type Server struct {
	read  ReadHandler
	write WriteHandler

	retransmitInterval time.Duration
	shutdownGrace      time.Duration
	dally              time.Duration

	metrics   *Metrics
	accessLog AccessLogger
	log       logrus.FieldLogger

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	group  *errgroup.Group
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRetransmitInterval overrides the default 2s retransmit timer.
func WithRetransmitInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.retransmitInterval = d }
}

// WithShutdownGrace overrides the default 15s shutdown drain period.
func WithShutdownGrace(d time.Duration) ServerOption {
	return func(s *Server) { s.shutdownGrace = d }
}

// WithDally sets how long an inbound engine lingers after EOF to catch
// a retransmitted last DATA block (spec §9's Open Question).
func WithDally(d time.Duration) ServerOption {
	return func(s *Server) { s.dally = d }
}

// WithMetrics installs a Metrics collaborator. Nil is valid and turns
// metrics reporting into a no-op.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAccessLog installs an AccessLogger collaborator.
func WithAccessLog(a AccessLogger) ServerOption {
	return func(s *Server) { s.accessLog = a }
}

// WithLogger overrides the diagnostic logger (default: logrus.StandardLogger()).
func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer builds a Server. read or write may be nil, in which case
// the corresponding method is answered with Error(AccessViolation).
func NewServer(read ReadHandler, write WriteHandler, opts ...ServerOption) *Server {
	s := &Server{
		read:                read,
		write:               write,
		retransmitInterval:  2 * time.Second,
		shutdownGrace:       15 * time.Second,
		dally:               2 * time.Second,
		log:                 logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr (host:port; the port must be given) and
// serves until ctx is cancelled or Shutdown is called. It blocks.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "tftp: resolve %q", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrapf(err, "tftp: listen %q", addr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.group = group
	s.mu.Unlock()

	defer conn.Close()
	defer cancel()
	stopClose := context.AfterFunc(runCtx, func() { _ = conn.Close() })
	defer stopClose()

	buf := make([]byte, 65536)
	for {
		n, from, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			if gctx.Err() != nil || errors.Is(rerr, net.ErrClosed) {
				break
			}
			s.log.WithError(rerr).Warn("listener read failed")
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		clientTID, terr := tidFromAddr(from)
		if terr != nil {
			continue
		}

		pkt, perr := Parse(raw)
		if perr != nil {
			s.sendError(clientTID, NotDefined, "invalid opcode")
			continue
		}
		req, ok := pkt.(*Request)
		if !ok {
			s.sendError(clientTID, NotDefined, "invalid opcode")
			continue
		}
		if req.Mode != Octet {
			s.sendError(clientTID, NotDefined, "OCTET mode only")
			continue
		}

		wire := req
		group.Go(func() error {
			s.dispatch(gctx, wire, clientTID)
			return nil
		})
	}

	return group.Wait()
}

// Shutdown closes the listener socket, waits up to the configured grace
// period (or until ctx is done) for in-flight dispatches to return, and
// then cancels whatever is still running (spec §4.5's "Shutdown" contract).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conn, cancel, group := s.conn, s.cancel, s.group
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.Close()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	grace := time.NewTimer(s.shutdownGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-grace.C:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (s *Server) sendError(to TID, code ErrorCode, msg string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	pkt := &Error{Code: code, Message: msg}
	payload, err := pkt.Encode()
	if err != nil {
		return
	}
	_, _ = conn.WriteToUDP(payload, to.UDPAddr())
}

func (s *Server) dispatch(ctx context.Context, wire *Request, clientTID TID) {
	start := time.Now()
	req := &Request{
		Filename:  wire.Filename,
		Remote:    clientTID,
		Method:    wire.Op,
		TraceID:   uuid.NewString(),
		ChunkSize: maxPayload,
	}
	log := s.log.WithFields(logrus.Fields{
		"trace_id": req.TraceID,
		"remote":   clientTID.String(),
		"filename": req.Filename,
		"method":   req.Method.String(),
	})

	switch wire.Op {
	case RRQ:
		s.dispatchRRQ(ctx, req, start, log)
	case WRQ:
		s.dispatchWRQ(ctx, req, start, log)
	}
}

func (s *Server) dispatchRRQ(ctx context.Context, req *Request, start time.Time, log logrus.FieldLogger) {
	if s.read == nil {
		s.sendError(req.Remote, AccessViolation, "Permission denied")
		return
	}

	s.metrics.transferStarted()
	outcome := "ok"
	var length uint64
	var finalErr error

	defer func() {
		s.metrics.transferFinished("RRQ", outcome)
		if s.accessLog != nil {
			s.accessLog.Log(req, length, time.Since(start), finalErr)
		}
	}()

	resp, err := s.invokeRead(ctx, req)
	if err != nil {
		finalErr = err
		if errors.Is(err, ErrFileNotFound) {
			outcome = "not_found"
			s.sendError(req.Remote, FileNotFound, "File not found")
			return
		}
		outcome = "handler_error"
		log.WithError(err).Warn("RRQ handler failed")
		s.sendError(req.Remote, NotDefined, lastLine(err))
		return
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		finalErr = err
		outcome = "error"
		log.WithError(err).Error("failed to open ephemeral socket")
		return
	}
	out := NewOutbound(conn, req.Remote, true, s.retransmitInterval, s.metrics, log)
	defer out.Close()

	perr := resp.Prepare(ctx, req, out)
	if perr != nil {
		finalErr = perr
		if errors.Is(perr, ErrFileNotFound) {
			outcome = "not_found"
			s.sendError(req.Remote, FileNotFound, "File not found")
		} else {
			outcome = "error"
			log.WithError(perr).Warn("RRQ prepare failed")
		}
	}
	if werr := resp.WriteEOF(ctx); werr != nil && finalErr == nil {
		finalErr = werr
		outcome = "error"
		log.WithError(werr).Warn("RRQ write_eof failed")
	}
	length = resp.Length()
}

func (s *Server) invokeRead(ctx context.Context, req *Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in read handler: %v", r)
		}
	}()
	return s.read(ctx, req)
}

func (s *Server) dispatchWRQ(ctx context.Context, req *Request, start time.Time, log logrus.FieldLogger) {
	if s.write == nil {
		s.sendError(req.Remote, AccessViolation, "Permission denied")
		return
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.WithError(err).Error("failed to open ephemeral socket")
		return
	}
	in := NewInbound(conn, req.Remote, true, s.retransmitInterval, s.dally, s.metrics, log)
	req.stream = in.Stream
	in.ServeWRQ()
	defer in.Close()
	// Before the deferred Close, give the engine its dally linger so a
	// retransmitted final DATA block is still answered.
	defer func() {
		select {
		case <-in.closed:
		case <-time.After(s.dally):
		case <-ctx.Done():
		}
	}()

	s.metrics.transferStarted()
	outcome := "ok"
	var finalErr error

	defer func() {
		s.metrics.transferFinished("WRQ", outcome)
		if s.accessLog != nil {
			s.accessLog.Log(req, in.Stream.TotalBytes(), time.Since(start), finalErr)
		}
	}()

	werr := s.invokeWrite(ctx, req)
	if werr != nil {
		finalErr = werr
		if errors.Is(werr, ErrFileNotFound) {
			outcome = "not_found"
			s.sendError(req.Remote, FileNotFound, "File not found")
		} else {
			outcome = "error"
			log.WithError(werr).Warn("WRQ handler failed")
			s.sendError(req.Remote, NotDefined, lastLine(werr))
		}
	}
}

func (s *Server) invokeWrite(ctx context.Context, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in write handler: %v", r)
		}
	}()
	return s.write(ctx, req)
}

func lastLine(err error) string {
	msg := err.Error()
	lines := strings.Split(strings.TrimRight(msg, "\n"), "\n")
	line := lines[len(lines)-1]
	if !isASCII(line) {
		return "internal error"
	}
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
