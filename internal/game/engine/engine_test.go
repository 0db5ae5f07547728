package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
)

type fixedSource int

func (f fixedSource) IntN(n int) int { return int(f) % n }

type rapidSource struct{ t *rapid.T }

func (r rapidSource) IntN(n int) int {
	return rapid.IntRange(0, n-1).Draw(r.t, "dir")
}

func corridor(t *testing.T, ghosts []world.Position, cells ...world.CellState) *world.Map {
	t.Helper()
	m, err := world.NewMap("corridor", [][]world.CellState{cells}, world.Position{}, ghosts)
	require.NoError(t, err)
	return m
}

func settings(ghosts, bots int) lobby.Settings {
	s := lobby.DefaultSettings()
	s.GhostCount = ghosts
	s.BotCount = bots
	return s
}

func TestPopulate(t *testing.T) {
	m, err := world.Builtin("tiny")
	require.NoError(t, err)
	e := New(m, settings(2, 1), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0, Name: "Host"}, {ID: 3, Name: "Alice"}}))

	w := e.World()
	ghosts := w.EntitiesOf(world.KindGhost)
	require.Len(t, ghosts, 2)
	assert.Equal(t, GhostIDBase, ghosts[0].ID)
	assert.Equal(t, GhostIDBase+1, ghosts[1].ID)
	assert.Equal(t, world.Position{Row: 3, Col: 5}, ghosts[1].Pos, "spawns are reused round-robin")

	players := w.EntitiesOf(world.KindPlayer)
	require.Len(t, players, 3)
	assert.Equal(t, "Alice", players[1].Name)
	assert.Equal(t, m.Spawn(), players[1].Pos)
	assert.Equal(t, BotIDBase, players[2].ID)
	assert.True(t, players[2].Bot)
	assert.Equal(t, Playing, e.Judge().Outcome)
}

func TestPopulate_Errors(t *testing.T) {
	e := New(corridor(t, nil, world.CellEmpty, world.CellEmpty), settings(1, 0), fixedSource(0))
	assert.Error(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}), "ghosts need spawns")

	e = New(corridor(t, nil, world.CellEmpty), settings(0, 0), fixedSource(0))
	assert.Error(t, e.Populate(nil))
	assert.Empty(t, e.World().Entities())
}

func TestNew_ClonesMap(t *testing.T) {
	m := corridor(t, nil, world.CellEmpty, world.CellFood)
	e := New(m, settings(0, 0), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}))
	require.NoError(t, e.MovePlayer(0, world.Position{Col: 1}, 0, false))
	assert.Equal(t, 1, m.FoodRemaining())
	assert.Equal(t, 0, e.World().Map().FoodRemaining())
}

func TestMovePlayer_EatsFood(t *testing.T) {
	m, err := world.Builtin("tiny")
	require.NoError(t, err)
	e := New(m, settings(0, 0), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}))
	e.World().Drain()

	require.NoError(t, e.MovePlayer(0, world.Position{Row: 1, Col: 2}, 0, true))
	require.NoError(t, e.MovePlayer(0, world.Position{Row: 1, Col: 3}, 0, true))

	p, ok := e.World().Entity(0)
	require.True(t, ok)
	assert.Equal(t, 1, p.Score)
	events := e.World().Drain()
	require.Len(t, events, 3)
	assert.Equal(t, world.CellChanged{Pos: world.Position{Row: 1, Col: 3}, State: world.CellEmpty}, events[2])
}

func TestMovePlayer_Rejections(t *testing.T) {
	m, err := world.Builtin("tiny")
	require.NoError(t, err)
	e := New(m, settings(1, 0), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}))
	e.World().Drain()

	err = e.MovePlayer(0, world.Position{Row: 0, Col: 1}, 0, false)
	assert.True(t, errors.Is(err, ErrIllegalMove))
	err = e.MovePlayer(0, world.Position{Row: 99, Col: 1}, 0, false)
	assert.True(t, errors.Is(err, ErrIllegalMove))
	err = e.MovePlayer(GhostIDBase, world.Position{Row: 1, Col: 2}, 0, false)
	assert.True(t, errors.Is(err, ErrNotPlayer))
	err = e.MovePlayer(42, world.Position{Row: 1, Col: 2}, 0, false)
	assert.True(t, errors.Is(err, ErrNotPlayer))
	assert.Empty(t, e.World().Drain())
}

func TestMovePlayer_OntoGhost(t *testing.T) {
	m := corridor(t, []world.Position{{Col: 1}}, world.CellEmpty, world.CellEmpty, world.CellFood)
	e := New(m, settings(1, 0), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}))

	require.NoError(t, e.MovePlayer(0, world.Position{Col: 1}, 0, false))
	_, alive := e.World().Entity(0)
	assert.False(t, alive)
	assert.Equal(t, Result{Outcome: GhostsWon}, e.Judge())
}

func TestStep_GhostCatchesPlayer(t *testing.T) {
	m := corridor(t, []world.Position{{Col: 2}}, world.CellEmpty, world.CellEmpty, world.CellEmpty, world.CellFood)
	e := New(m, settings(1, 0), fixedSource(0))
	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}}))

	require.NoError(t, e.Step())
	g, _ := e.World().Entity(GhostIDBase)
	assert.Equal(t, world.Position{Col: 1}, g.Pos)
	assert.Equal(t, 180.0, g.Angle)
	assert.False(t, e.Judge().Finished())

	require.NoError(t, e.Step())
	assert.Equal(t, GhostsWon, e.Judge().Outcome)
}

func TestStep_BotEats(t *testing.T) {
	m := corridor(t, nil, world.CellEmpty, world.CellFood)
	e := New(m, settings(0, 1), fixedSource(0))
	require.NoError(t, e.Populate(nil))

	require.NoError(t, e.Step())
	assert.Equal(t, Result{Outcome: PlayerWon, WinnerID: BotIDBase, HasWinner: true}, e.Judge())
}

func TestJudge(t *testing.T) {
	m := corridor(t, nil, world.CellEmpty, world.CellFood, world.CellEmpty)
	e := New(m, settings(0, 0), fixedSource(0))
	assert.Equal(t, Playing, e.Judge().Outcome, "nothing spawned yet")

	require.NoError(t, e.Populate([]lobby.PlayerInfo{{ID: 0}, {ID: 1}}))
	assert.Equal(t, Playing, e.Judge().Outcome)

	require.NoError(t, e.MovePlayer(1, world.Position{Col: 1}, 0, false))
	assert.Equal(t, Result{Outcome: PlayerWon, WinnerID: 1, HasWinner: true}, e.Judge())

	tie := New(corridor(t, nil, world.CellEmpty, world.CellEmpty), settings(0, 0), fixedSource(0))
	require.NoError(t, tie.Populate([]lobby.PlayerInfo{{ID: 0}, {ID: 1}}))
	assert.Equal(t, Result{Outcome: Tie}, tie.Judge())
}

func TestOutcome_Names(t *testing.T) {
	for _, o := range []Outcome{Playing, GhostsWon, PlayerWon, Tie} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
	assert.Equal(t, "ghosts-won", GhostsWon.String())
	_, err := ParseOutcome("draw")
	assert.Error(t, err)
}

// Property: stepping never puts an entity on a wall and never leaves a
// player sharing a cell with a ghost.
func TestPropertyStepInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m, err := world.Builtin("classic")
		if err != nil {
			rt.Fatal(err)
		}
		e := New(m, settings(rapid.IntRange(0, 4).Draw(rt, "ghosts"), rapid.IntRange(0, 3).Draw(rt, "bots")), rapidSource{rt})
		if err := e.Populate([]lobby.PlayerInfo{{ID: 0, Name: "Host"}}); err != nil {
			rt.Fatal(err)
		}
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps && !e.Judge().Finished(); i++ {
			if err := e.Step(); err != nil {
				rt.Fatal(err)
			}
			for _, ent := range e.World().Entities() {
				if !e.World().Map().Walkable(ent.Pos) {
					rt.Fatalf("entity %d on wall %s", ent.ID, ent.Pos)
				}
				if ent.Kind != world.KindGhost {
					continue
				}
				for _, other := range e.World().EntitiesAt(ent.Pos) {
					if other.Kind == world.KindPlayer {
						rt.Fatalf("player %d survived on ghost cell %s", other.ID, ent.Pos)
					}
				}
			}
		}
	})
}
