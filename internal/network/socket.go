// Package network carries encoded packets over framed duplex sockets and
// fans them out to one, all, or all-but-one connection.
package network

import (
	"errors"
	"time"
)

// Connection errors. Callers match them with errors.Is.
var (
	ErrServerFull        = errors.New("server full")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrOutboxFull        = errors.New("connection outbox full")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrClosed            = errors.New("connection closed")
	ErrManagerClosed     = errors.New("connection manager closed")
)

// DefaultMaxFrameSize bounds one inbound frame in bytes.
const DefaultMaxFrameSize = 64 * 1024

// Socket is one reliable, ordered, framed duplex connection. Each frame
// holds exactly one encoded packet.
//
// ReadFrame is called from a single goroutine; WriteFrame from another.
// Close may be called from any goroutine, more than once, and must unblock
// a pending ReadFrame.
type Socket interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

// SocketOptions tune the built-in transports.
type SocketOptions struct {
	// ReadTimeout closes a connection that stays silent this long. Zero
	// disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single frame write. Zero disables it.
	WriteTimeout time.Duration
	// MaxFrameSize bounds one inbound frame. Zero selects DefaultMaxFrameSize.
	MaxFrameSize int
}

func (o SocketOptions) maxFrame() int {
	if o.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return o.MaxFrameSize
}
