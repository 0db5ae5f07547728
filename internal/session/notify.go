package session

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
)

// Notification is a session transition surfaced to the surrounding
// application. The concrete types are listed below.
type Notification interface{ isNotification() }

// LobbyChanged reports the current roster and rule strings.
type LobbyChanged struct {
	Players []lobby.PlayerInfo
	Rules   []string
}

// GameStarting reports that a match with the given settings is beginning.
// MatchID is set on the server only.
type GameStarting struct {
	Settings lobby.Settings
	MatchID  uuid.UUID
}

// GameEnded reports a match result.
type GameEnded struct {
	Result engine.Result
}

// LocalPlayerDied reports that the client's own player was caught.
type LocalPlayerDied struct{}

// ProtocolError reports a rejected packet or frame. Fatal errors closed
// the connection.
type ProtocolError struct {
	ConnID int
	Packet string
	Err    error
	Fatal  bool
}

// Disconnected reports a closed connection.
type Disconnected struct {
	ConnID int
	Cause  error
}

func (LobbyChanged) isNotification()    {}
func (GameStarting) isNotification()    {}
func (GameEnded) isNotification()       {}
func (LocalPlayerDied) isNotification() {}
func (ProtocolError) isNotification()   {}
func (Disconnected) isNotification()    {}

const notificationBuffer = 128

// notifier publishes without ever blocking the session loop. Notifications
// that find the buffer full are dropped.
type notifier struct {
	ch     chan Notification
	logger *zap.Logger
}

func newNotifier(logger *zap.Logger) *notifier {
	return &notifier{ch: make(chan Notification, notificationBuffer), logger: logger}
}

func (n *notifier) publish(note Notification) {
	select {
	case n.ch <- note:
	default:
		n.logger.Warn("notification buffer full, dropping",
			zap.String("notification", fmt.Sprintf("%T", note)),
		)
	}
}
