package engine

import (
	"fmt"

	"github.com/cory-johannsen/gridchase/internal/game/world"
)

// Outcome is the state of a match as judged after each step.
type Outcome int

const (
	Playing Outcome = iota
	GhostsWon
	PlayerWon
	Tie
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Playing:
		return "playing"
	case GhostsWon:
		return "ghosts-won"
	case PlayerWon:
		return "player-won"
	case Tie:
		return "tie"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome converts a wire name into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range []Outcome{Playing, GhostsWon, PlayerWon, Tie} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// Result is a judged outcome. WinnerID is meaningful only when HasWinner
// is set, which happens only for PlayerWon.
type Result struct {
	Outcome   Outcome
	WinnerID  int
	HasWinner bool
}

// Finished reports whether the match is over.
func (r Result) Finished() bool {
	return r.Outcome != Playing
}

// Judge decides the match outcome.
//
// Ghosts win once every player has been caught. When the food runs out the
// highest score wins; equal top scores tie.
func (e *Engine) Judge() Result {
	if !e.spawned {
		return Result{Outcome: Playing}
	}
	players := e.world.EntitiesOf(world.KindPlayer)
	if len(players) == 0 {
		return Result{Outcome: GhostsWon}
	}
	if e.world.Map().FoodRemaining() > 0 {
		return Result{Outcome: Playing}
	}
	best := players[0]
	tied := false
	for _, p := range players[1:] {
		switch {
		case p.Score > best.Score:
			best, tied = p, false
		case p.Score == best.Score:
			tied = true
		}
	}
	if tied {
		return Result{Outcome: Tie}
	}
	return Result{Outcome: PlayerWon, WinnerID: best.ID, HasWinner: true}
}
