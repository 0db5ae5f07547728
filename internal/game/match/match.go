// Package match describes the records kept about played matches.
package match

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
)

// Start is recorded when a match begins.
type Start struct {
	ID        uuid.UUID
	Settings  lobby.Settings
	Players   []lobby.PlayerInfo
	StartedAt time.Time
}

// Score is one player entity's final tally.
type Score struct {
	EntityID int
	Name     string
	Score    int
	Bot      bool
	Caught   bool
}

// End is recorded when a match finishes.
type End struct {
	ID      uuid.UUID
	Result  engine.Result
	Scores  []Score
	EndedAt time.Time
}

// Recorder persists match records.
type Recorder interface {
	MatchStarted(ctx context.Context, s Start) error
	MatchEnded(ctx context.Context, e End) error
}
