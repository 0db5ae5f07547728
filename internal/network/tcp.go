package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// lineSocket frames packets on a TCP stream with a trailing newline. The
// codec never emits a raw newline inside a packet.
type lineSocket struct {
	raw     net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewLineSocket wraps a stream connection as a newline-framed Socket.
//
// Precondition: raw must be a valid, open network connection.
func NewLineSocket(raw net.Conn, opts SocketOptions) Socket {
	limit := opts.maxFrame() + 1
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, min(4096, limit)), limit)
	return &lineSocket{
		raw:          raw,
		scanner:      scanner,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

// ReadFrame returns the next line without its terminator.
//
// Postcondition: Returns io.EOF at a clean end of stream and an error
// wrapping ErrFrameTooLarge for an oversized line.
func (s *lineSocket) ReadFrame() ([]byte, error) {
	if s.readTimeout > 0 {
		_ = s.raw.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	if !s.scanner.Scan() {
		err := s.scanner.Err()
		switch {
		case err == nil:
			return nil, io.EOF
		case errors.Is(err, bufio.ErrTooLong):
			return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		default:
			return nil, err
		}
	}
	return bytes.TrimSuffix(bytes.Clone(s.scanner.Bytes()), []byte{'\r'}), nil
}

// WriteFrame writes frame followed by a newline in a single write.
func (s *lineSocket) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.raw.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(append(buf, frame...), '\n')
	_, err := s.raw.Write(buf)
	return err
}

func (s *lineSocket) Close() error {
	return s.raw.Close()
}

func (s *lineSocket) RemoteAddr() string {
	return s.raw.RemoteAddr().String()
}

// DialTCP connects to a TCP game server.
func DialTCP(ctx context.Context, addr string, opts SocketOptions) (Socket, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewLineSocket(raw, opts), nil
}

// Listener accepts TCP connections and hands each to a Manager.
type Listener struct {
	addr    string
	opts    SocketOptions
	manager *Manager
	logger  *zap.Logger

	listener net.Listener
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewListener creates a Listener for addr.
//
// Precondition: manager and logger must be non-nil.
// Postcondition: Returns a Listener ready to be started with ListenAndServe.
func NewListener(addr string, opts SocketOptions, manager *Manager, logger *zap.Logger) *Listener {
	return &Listener{
		addr:    addr,
		opts:    opts,
		manager: manager,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

// ListenAndServe accepts connections until Stop is called.
//
// Precondition: The listener must not already be running.
// Postcondition: The socket listener is closed when this method returns.
func (l *Listener) ListenAndServe() error {
	start := time.Now()

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.running = true
	l.mu.Unlock()

	l.logger.Info("tcp listener listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return nil
			default:
				l.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}
		l.handleConn(raw)
	}
}

func (l *Listener) handleConn(raw net.Conn) {
	addr := raw.RemoteAddr().String()
	id, err := l.manager.Add(NewLineSocket(raw, l.opts))
	if err != nil {
		l.logger.Warn("rejecting connection",
			zap.String("remote_addr", addr),
			zap.Error(err),
		)
		_ = raw.Close()
		return
	}
	l.logger.Info("client connected",
		zap.String("remote_addr", addr),
		zap.Int("conn_id", id),
	)
}

// Stop closes the socket listener. Established connections belong to the
// Manager and are not closed.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false

	close(l.quit)
	if l.listener != nil {
		l.listener.Close()
	}
	l.logger.Info("tcp listener stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the listener is currently accepting connections.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
