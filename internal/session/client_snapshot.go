package session

import (
	"context"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
)

// ClientSnapshot is a point-in-time copy of a Client's mirror.
type ClientSnapshot struct {
	State    ParticipantState
	ID       int
	HasID    bool
	Players  []lobby.PlayerInfo
	Rules    []string
	Settings lobby.Settings
	// Entities and FoodRemaining are set only in a game.
	Entities      []world.Entity
	FoodRemaining int
	// Ignored counts updates that named an entity the client never saw
	// join.
	Ignored    int
	LastResult engine.Result
	HasResult  bool
}

// IsHost reports whether this participant holds client ID 0.
func (s ClientSnapshot) IsHost() bool {
	return s.HasID && s.ID == 0
}

// Entity returns the mirrored entity with the given ID.
func (s ClientSnapshot) Entity(id int) (world.Entity, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return world.Entity{}, false
}

// Local returns the local player's entity while it is alive.
func (s ClientSnapshot) Local() (world.Entity, bool) {
	if !s.HasID {
		return world.Entity{}, false
	}
	return s.Entity(s.ID)
}

// Snapshot captures the client's mirror on the session loop.
func (cl *Client) Snapshot(ctx context.Context) (ClientSnapshot, error) {
	var snap ClientSnapshot
	err := cl.c.call(ctx, func() error {
		snap = ClientSnapshot{
			State:      cl.state,
			ID:         cl.id,
			HasID:      cl.hasID,
			Players:    cl.lobby.Players(),
			Rules:      cl.lobby.Rules(),
			Settings:   cl.settings,
			Ignored:    cl.ignored,
			LastResult: cl.result,
			HasResult:  cl.hasResult,
		}
		if cl.world != nil {
			snap.Entities = cl.world.Entities()
			snap.FoodRemaining = cl.world.Map().FoodRemaining()
		}
		return nil
	})
	return snap, err
}
