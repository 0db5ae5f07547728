// Package engine provides the authoritative game rules for one match:
// populating the world, stepping ghosts and bots, eating food, resolving
// ghost collisions, and deciding the outcome.
package engine

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
)

// Entity ID ranges. Client IDs are always below BotIDBase.
const (
	BotIDBase   = 500
	GhostIDBase = 1000
)

// ErrIllegalMove is returned for a move into a wall or off the grid.
var ErrIllegalMove = errors.New("illegal move")

// ErrNotPlayer is returned when a player operation names a non-player entity.
var ErrNotPlayer = errors.New("not a player entity")

// Source supplies the randomness for ghost and bot movement.
type Source interface {
	IntN(n int) int
}

// Engine runs the rules of one match over its own copy of the map.
//
// Engine is not safe for concurrent use.
type Engine struct {
	world    *world.World
	settings lobby.Settings
	rng      Source
	spawned  bool
}

// New creates an Engine over a private clone of m.
//
// Precondition: m and rng must be non-nil; settings must be valid.
func New(m *world.Map, settings lobby.Settings, rng Source) *Engine {
	return &Engine{
		world:    world.New(m.Clone()),
		settings: settings,
		rng:      rng,
	}
}

// World returns the match world.
func (e *Engine) World() *world.World {
	return e.world
}

// Settings returns the match settings.
func (e *Engine) Settings() lobby.Settings {
	return e.settings
}

// Populate adds the ghosts, one player entity per participant at the map
// spawn, and the configured bots.
//
// Postcondition: Returns an error without adding anything if the map has no
// ghost spawns but ghosts were requested.
func (e *Engine) Populate(players []lobby.PlayerInfo) error {
	m := e.world.Map()
	spawns := m.GhostSpawns()
	if e.settings.GhostCount > 0 && len(spawns) == 0 {
		return fmt.Errorf("map %q has no ghost spawns", m.Name())
	}
	if len(players)+e.settings.BotCount == 0 {
		return errors.New("populating match: no players")
	}
	for i := 0; i < e.settings.GhostCount; i++ {
		if err := e.world.Add(world.Entity{
			ID:   GhostIDBase + i,
			Kind: world.KindGhost,
			Pos:  spawns[i%len(spawns)],
		}); err != nil {
			return err
		}
	}
	for _, p := range players {
		if err := e.world.Add(world.Entity{
			ID:   p.ID,
			Kind: world.KindPlayer,
			Name: p.Name,
			Pos:  m.Spawn(),
		}); err != nil {
			return err
		}
	}
	for i := 0; i < e.settings.BotCount; i++ {
		if err := e.world.Add(world.Entity{
			ID:   BotIDBase + i,
			Kind: world.KindPlayer,
			Name: fmt.Sprintf("Bot %d", i+1),
			Pos:  m.Spawn(),
			Bot:  true,
		}); err != nil {
			return err
		}
	}
	e.spawned = true
	return nil
}

// MovePlayer applies a participant's move, then eats food and resolves
// ghost collisions at the destination.
//
// Postcondition: Returns ErrNotPlayer or ErrIllegalMove without changing
// the world.
func (e *Engine) MovePlayer(id int, to world.Position, angle float64, hasAngle bool) error {
	ent, ok := e.world.Entity(id)
	if !ok || ent.Kind != world.KindPlayer {
		return fmt.Errorf("%w: %d", ErrNotPlayer, id)
	}
	if !e.world.Map().Walkable(to) {
		return fmt.Errorf("%w: player %d to %s", ErrIllegalMove, id, to)
	}
	var err error
	if hasAngle {
		err = e.world.MoveWithAngle(id, to, angle)
	} else {
		err = e.world.Move(id, to)
	}
	if err != nil {
		return err
	}
	if err := e.eat(id, to); err != nil {
		return err
	}
	return e.collide(to)
}

// RemovePlayer takes a participant's entity out of the match.
func (e *Engine) RemovePlayer(id int) error {
	ent, ok := e.world.Entity(id)
	if !ok || ent.Kind != world.KindPlayer {
		return fmt.Errorf("%w: %d", ErrNotPlayer, id)
	}
	_, err := e.world.Remove(id)
	return err
}

// Step advances the match by one tick: every ghost and bot takes a random
// walkable step.
func (e *Engine) Step() error {
	for _, g := range e.world.EntitiesOf(world.KindGhost) {
		dir, ok := e.randomStep(g.Pos)
		if !ok {
			continue
		}
		to := g.Pos.Step(dir)
		if err := e.world.MoveWithAngle(g.ID, to, dir.Angle()); err != nil {
			return err
		}
		if err := e.collide(to); err != nil {
			return err
		}
	}
	for _, b := range e.world.EntitiesOf(world.KindPlayer) {
		if !b.Bot {
			continue
		}
		if _, alive := e.world.Entity(b.ID); !alive {
			continue
		}
		dir, ok := e.randomStep(b.Pos)
		if !ok {
			continue
		}
		if err := e.MovePlayer(b.ID, b.Pos.Step(dir), dir.Angle(), true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) randomStep(from world.Position) (world.Direction, bool) {
	var options []world.Direction
	for _, d := range world.Directions {
		if e.world.Map().Walkable(from.Step(d)) {
			options = append(options, d)
		}
	}
	if len(options) == 0 {
		return 0, false
	}
	return options[e.rng.IntN(len(options))], true
}

func (e *Engine) eat(id int, at world.Position) error {
	cell, err := e.world.Map().Cell(at)
	if err != nil {
		return err
	}
	if cell != world.CellFood {
		return nil
	}
	if err := e.world.SetCell(at, world.CellEmpty); err != nil {
		return err
	}
	return e.world.AddScore(id, 1)
}

// collide removes every player sharing a cell with a ghost.
func (e *Engine) collide(at world.Position) error {
	here := e.world.EntitiesAt(at)
	ghost := false
	for _, ent := range here {
		ghost = ghost || ent.Kind == world.KindGhost
	}
	if !ghost {
		return nil
	}
	for _, ent := range here {
		if ent.Kind != world.KindPlayer {
			continue
		}
		if _, err := e.world.Remove(ent.ID); err != nil {
			return err
		}
	}
	return nil
}
