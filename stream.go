package tftp

import (
	"io"
	"sync"
)

// Stream is the single-producer/single-consumer byte stream that backs
// every inbound transfer (spec §4.2). The inbound engine is the sole
// producer; application code is the sole consumer via the io.Reader
// interface. At most one goroutine may be blocked in Read, and at
// most one may be blocked in WaitEOF; a second concurrent caller is a
// programming error and panics, mirroring the source's RuntimeError.
type Stream struct {
	mu     sync.Mutex
	chunks [][]byte
	offset int
	eof    bool
	err    error

	readWaiter chan struct{}
	eofWaiter  chan struct{}

	totalBytes uint64
}

// NewStream returns an empty, open Stream.
func NewStream() *Stream {
	return &Stream{}
}

// FeedData appends a chunk for the consumer. An empty chunk is a no-op.
// Feeding data after FeedEOF is a programming error.
func (s *Stream) FeedData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	if s.eof {
		s.mu.Unlock()
		panic("tftp: FeedData after FeedEOF")
	}
	s.chunks = append(s.chunks, chunk)
	s.totalBytes += uint64(len(chunk))
	s.wakeReaderLocked()
	s.mu.Unlock()
}

// FeedEOF marks the stream complete. Safe to call more than once.
func (s *Stream) FeedEOF() {
	s.mu.Lock()
	s.eof = true
	s.wakeReaderLocked()
	s.wakeEOFLocked()
	s.mu.Unlock()
}

// SetException attaches a terminal error. All subsequent Reads, and any
// pending or future WaitEOF, return err.
func (s *Stream) SetException(err error) {
	s.mu.Lock()
	s.err = err
	s.wakeReaderLocked()
	s.wakeEOFLocked()
	s.mu.Unlock()
}

// Exception returns the terminal error, if any has been set.
func (s *Stream) Exception() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// TotalBytes returns the cumulative number of bytes fed so far.
func (s *Stream) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

func (s *Stream) wakeReaderLocked() {
	if s.readWaiter != nil {
		close(s.readWaiter)
		s.readWaiter = nil
	}
}

func (s *Stream) wakeEOFLocked() {
	if s.eofWaiter != nil {
		close(s.eofWaiter)
		s.eofWaiter = nil
	}
}

// WaitEOF blocks until the stream reaches EOF or a terminal error.
func (s *Stream) WaitEOF() error {
	s.mu.Lock()
	if s.eof || s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	if s.eofWaiter != nil {
		s.mu.Unlock()
		panic("tftp: WaitEOF called while another goroutine is already waiting")
	}
	waiter := make(chan struct{})
	s.eofWaiter = waiter
	s.mu.Unlock()

	<-waiter

	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	return err
}

// Read implements io.Reader. It blocks until at least one chunk has
// been fed, then drains as much buffered data as fits in p, splitting
// the head chunk if needed. Once drained at EOF it returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	for len(s.chunks) == 0 && !s.eof && s.err == nil {
		if s.readWaiter != nil {
			s.mu.Unlock()
			panic("tftp: Read called while another goroutine is already waiting for data")
		}
		waiter := make(chan struct{})
		s.readWaiter = waiter
		s.mu.Unlock()

		<-waiter

		s.mu.Lock()
	}

	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	if len(s.chunks) == 0 {
		s.mu.Unlock()
		return 0, io.EOF
	}

	n := s.drainLocked(p)
	s.mu.Unlock()
	return n, nil
}

func (s *Stream) drainLocked(p []byte) int {
	total := 0
	for len(s.chunks) > 0 && total < len(p) {
		head := s.chunks[0]
		n := copy(p[total:], head[s.offset:])
		total += n
		s.offset += n
		if s.offset == len(head) {
			s.chunks = s.chunks[1:]
			s.offset = 0
		}
	}
	return total
}

var _ io.Reader = (*Stream)(nil)
