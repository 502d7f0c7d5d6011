package tftp

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReadAfterFeed(t *testing.T) {
	s := NewStream()
	s.FeedData([]byte("hello"))
	s.FeedEOF()

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = s.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestStreamReadBlocksUntilFed(t *testing.T) {
	s := NewStream()
	done := make(chan struct{})
	var n int
	var err error

	go func() {
		buf := make([]byte, 16)
		n, err = s.Read(buf)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.FeedData([]byte("late"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after FeedData")
	}
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStreamSplitsChunkAcrossReads(t *testing.T) {
	s := NewStream()
	s.FeedData([]byte("abcdef"))
	s.FeedEOF()

	buf := make([]byte, 3)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "def", string(buf[:n]))

	_, err = s.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestStreamSetException(t *testing.T) {
	s := NewStream()
	boom := errTest("boom")
	s.SetException(boom)

	buf := make([]byte, 4)
	_, err := s.Read(buf)
	assert.Equal(t, boom, err)
	assert.Equal(t, boom, s.Exception())
}

func TestStreamFeedDataAfterEOFPanics(t *testing.T) {
	s := NewStream()
	s.FeedEOF()
	assert.Panics(t, func() { s.FeedData([]byte("x")) })
}

func TestStreamConcurrentReadPanics(t *testing.T) {
	s := NewStream()
	go func() {
		buf := make([]byte, 4)
		_, _ = s.Read(buf)
	}()
	time.Sleep(20 * time.Millisecond)

	assert.Panics(t, func() {
		buf := make([]byte, 4)
		_, _ = s.Read(buf)
	})
	s.FeedEOF()
}

func TestStreamWaitEOF(t *testing.T) {
	s := NewStream()
	done := make(chan error, 1)
	go func() { done <- s.WaitEOF() }()

	time.Sleep(10 * time.Millisecond)
	s.FeedEOF()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitEOF did not unblock after FeedEOF")
	}
}

func TestStreamTotalBytes(t *testing.T) {
	s := NewStream()
	s.FeedData([]byte("abc"))
	s.FeedData([]byte("de"))
	assert.Equal(t, uint64(5), s.TotalBytes())
}

type errTest string

func (e errTest) Error() string { return string(e) }
