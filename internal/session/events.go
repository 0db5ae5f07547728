package session

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// Session errors. Callers match them with errors.Is.
var (
	ErrIllegalSender       = errors.New("illegal sender")
	ErrUnexpectedHandshake = errors.New("unexpected handshake")
	ErrUnexpectedMessage   = errors.New("unexpected message")
	ErrGameInProgress      = errors.New("game in progress")
	ErrNoGame              = errors.New("no game in progress")
	ErrNoPlayers           = errors.New("no players to start a game")
	ErrSessionClosed       = errors.New("session closed")
)

// Role selects authoritative (server) or participant (client) behaviour.
type Role int

const (
	RoleServer Role = iota + 1
	RoleClient
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// event is one item on a session's single-writer inbox.
type event interface{ isEvent() }

type connectedEvent struct {
	id   int
	addr string
}

type packetEvent struct {
	id int
	p  *packet.Packet
}

type malformedEvent struct {
	id  int
	err error
}

type disconnectedEvent struct {
	id    int
	cause error
}

type tickEvent struct{}

// callEvent runs fn on the session loop and replies with its result.
type callEvent struct {
	fn    func() error
	reply chan error
}

func (connectedEvent) isEvent()    {}
func (packetEvent) isEvent()       {}
func (malformedEvent) isEvent()    {}
func (disconnectedEvent) isEvent() {}
func (tickEvent) isEvent()         {}
func (callEvent) isEvent()         {}
