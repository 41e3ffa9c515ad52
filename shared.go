package jsonl

import (
	"io"
	"sync"
	"sync/atomic"
)

// SharedStream is a reference-counted handle to one duplex stream, so the
// stream can back both the source and the sink of a Connection.
//
// Each Read holds the stream's read lock and each Write or Flush holds its
// write lock, only for that single call. Two operations in the same
// direction never interleave their bytes, while a Read blocked on the peer
// does not hold up a Write. The wrapped stream must therefore tolerate one
// reader and one writer at the same time, as net.Conn, pipes and files do.
type SharedStream struct {
	state    *sharedState
	released atomic.Bool
}

type sharedState struct {
	rw   io.ReadWriter
	refs atomic.Int32

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewSharedStream returns the first handle to rw.
func NewSharedStream(rw io.ReadWriter) *SharedStream {
	state := &sharedState{rw: rw}
	state.refs.Store(1)
	return &SharedStream{state: state}
}

// Clone returns another handle to the same stream and increments the share
// count. Cloning a released handle, or a stream whose last handle has been
// released, returns a released handle.
func (s *SharedStream) Clone() *SharedStream {
	h := &SharedStream{state: s.state}
	if s.released.Load() {
		h.released.Store(true)
		return h
	}

	// The count never goes from zero back to one: a stream closed by the last
	// Close stays closed.
	for {
		n := s.state.refs.Load()
		if n <= 0 {
			h.released.Store(true)
			return h
		}
		if s.state.refs.CompareAndSwap(n, n+1) {
			return h
		}
	}
}

// Refs returns the number of live handles.
func (s *SharedStream) Refs() int {
	return int(s.state.refs.Load())
}

// Read reads from the stream under the read lock.
func (s *SharedStream) Read(p []byte) (int, error) {
	if s.released.Load() {
		return 0, ErrStreamClosed
	}

	s.state.readMu.Lock()
	defer s.state.readMu.Unlock()
	return s.state.rw.Read(p)
}

// Write writes to the stream under the write lock.
func (s *SharedStream) Write(p []byte) (int, error) {
	if s.released.Load() {
		return 0, ErrStreamClosed
	}

	s.state.writeMu.Lock()
	defer s.state.writeMu.Unlock()
	return s.state.rw.Write(p)
}

// Flush flushes the stream under the write lock if it has a Flush method.
func (s *SharedStream) Flush() error {
	if s.released.Load() {
		return ErrStreamClosed
	}

	f, ok := s.state.rw.(interface{ Flush() error })
	if !ok {
		return nil
	}

	s.state.writeMu.Lock()
	defer s.state.writeMu.Unlock()
	return f.Flush()
}

// Close releases this handle. When the last handle is released the stream is
// closed if it implements io.Closer. Safe to call multiple times.
func (s *SharedStream) Close() error {
	if s.released.Swap(true) {
		return nil // already released
	}

	if s.state.refs.Add(-1) > 0 {
		return nil
	}

	if c, ok := s.state.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
