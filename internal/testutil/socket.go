package testutil

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// ErrPipeClosed is returned by operations on a closed PipeSocket.
var ErrPipeClosed = errors.New("pipe socket closed")

// ErrWriteFailed is returned by WriteFrame after FailWrites.
var ErrWriteFailed = errors.New("injected write failure")

// PipeSocket is one end of an in-memory framed duplex connection. It
// satisfies network.Socket.
type PipeSocket struct {
	name   string
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
	peer   *PipeSocket
	fail   atomic.Bool
}

// SocketPair returns two connected PipeSockets. Frames written on one are
// read from the other in order.
func SocketPair() (*PipeSocket, *PipeSocket) {
	a := &PipeSocket{name: "pipe-a", inbox: make(chan []byte, 1024), closed: make(chan struct{})}
	b := &PipeSocket{name: "pipe-b", inbox: make(chan []byte, 1024), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// ReadFrame returns the next frame. Frames already delivered are still
// returned after the peer closes; then io.EOF.
func (s *PipeSocket) ReadFrame() ([]byte, error) {
	select {
	case f := <-s.inbox:
		return f, nil
	case <-s.closed:
		return nil, ErrPipeClosed
	case <-s.peer.closed:
		select {
		case f := <-s.inbox:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

// WriteFrame delivers a copy of frame to the peer.
func (s *PipeSocket) WriteFrame(frame []byte) error {
	if s.fail.Load() {
		return ErrWriteFailed
	}
	select {
	case <-s.closed:
		return ErrPipeClosed
	case <-s.peer.closed:
		return ErrPipeClosed
	default:
	}
	select {
	case s.peer.inbox <- bytes.Clone(frame):
		return nil
	case <-s.closed:
		return ErrPipeClosed
	case <-s.peer.closed:
		return ErrPipeClosed
	}
}

// Close closes this end. It is safe to call more than once.
func (s *PipeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// RemoteAddr names the peer end.
func (s *PipeSocket) RemoteAddr() string {
	return s.peer.name
}

// FailWrites makes every later WriteFrame fail.
func (s *PipeSocket) FailWrites() {
	s.fail.Store(true)
}

// IsClosed reports whether this end was closed.
func (s *PipeSocket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Send encodes p and writes it, failing the test on error.
func (s *PipeSocket) Send(t *testing.T, p *packet.Packet) {
	t.Helper()
	if err := s.WriteFrame(packet.Encode(p)); err != nil {
		t.Fatalf("sending %s: %v", p.Name(), err)
	}
}

// Expect waits for the next frame and decodes it, failing the test on
// timeout or a malformed frame.
func (s *PipeSocket) Expect(t *testing.T, timeout time.Duration) *packet.Packet {
	t.Helper()
	select {
	case f := <-s.inbox:
		p, err := packet.Decode(f)
		if err != nil {
			t.Fatalf("decoding %q: %v", f, err)
		}
		return p
	case <-time.After(timeout):
		t.Fatalf("no frame within %s", timeout)
		return nil
	}
}

// ExpectNamed waits for the next frame and checks its packet name.
func (s *PipeSocket) ExpectNamed(t *testing.T, name string, timeout time.Duration) *packet.Packet {
	t.Helper()
	p := s.Expect(t, timeout)
	if p.Name() != name {
		t.Fatalf("got packet %q, want %q", p.Name(), name)
	}
	return p
}

// ExpectNone fails the test if a frame arrives within wait.
func (s *PipeSocket) ExpectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-s.inbox:
		t.Fatalf("unexpected frame %q", f)
	case <-time.After(wait):
	}
}

// WaitClosed waits for the peer end to close, failing the test on timeout.
func (s *PipeSocket) WaitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.peer.closed:
	case <-time.After(timeout):
		t.Fatalf("%s was not closed within %s", s.peer.name, timeout)
	}
}
