// Package lobby provides the pre-game roster and the shared rule settings.
package lobby

import (
	"errors"
	"fmt"
)

// ErrDuplicatePlayer is returned when adding an ID already in the lobby.
var ErrDuplicatePlayer = errors.New("player already in lobby")

// PlayerInfo identifies one lobby participant.
type PlayerInfo struct {
	ID   int
	Name string
}

// Lobby is an ordered roster plus the rule display strings.
// Lobby is not safe for concurrent use; its owning session serializes access.
type Lobby struct {
	order   []int
	players map[int]PlayerInfo
	rules   []string
}

// New creates an empty lobby.
func New() *Lobby {
	return &Lobby{players: make(map[int]PlayerInfo)}
}

// Add appends a participant to the roster.
//
// Postcondition: Returns ErrDuplicatePlayer if info.ID is already present.
func (l *Lobby) Add(info PlayerInfo) error {
	if _, exists := l.players[info.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicatePlayer, info.ID)
	}
	l.players[info.ID] = info
	l.order = append(l.order, info.ID)
	return nil
}

// Remove drops a participant. It reports whether the ID was present.
func (l *Lobby) Remove(id int) bool {
	if _, exists := l.players[id]; !exists {
		return false
	}
	delete(l.players, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether id is in the roster.
func (l *Lobby) Contains(id int) bool {
	_, ok := l.players[id]
	return ok
}

// Player returns the participant with the given ID.
func (l *Lobby) Player(id int) (PlayerInfo, bool) {
	p, ok := l.players[id]
	return p, ok
}

// Players returns the roster in join order.
func (l *Lobby) Players() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.players[id])
	}
	return out
}

// Len returns the roster size.
func (l *Lobby) Len() int {
	return len(l.order)
}

// SetRules replaces the rule display strings.
func (l *Lobby) SetRules(rules []string) {
	l.rules = append([]string(nil), rules...)
}

// Rules returns a copy of the rule display strings.
func (l *Lobby) Rules() []string {
	return append([]string(nil), l.rules...)
}

// Clear empties the roster and the rules.
func (l *Lobby) Clear() {
	l.order = nil
	l.players = make(map[int]PlayerInfo)
	l.rules = nil
}
