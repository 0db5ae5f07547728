package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// wire sends m through the codec the way a peer would receive it.
func wire(t *testing.T, m Message) *packet.Packet {
	t.Helper()
	p, err := packet.Decode(packet.Encode(m.Packet()))
	require.NoError(t, err)
	return p
}

func TestRemotePlayerMoved_WireForm(t *testing.T) {
	m := RemotePlayerMoved{PlayerID: 3, Pos: world.Position{Row: 4, Col: 7}}
	assert.Equal(t, "remote-player-moved 3 row int32 4 col int32 7 player-id int32 3", string(packet.Encode(m.Packet())))

	got, err := ParseRemotePlayerMoved(wire(t, m))
	require.NoError(t, err)
	assert.Equal(t, m, got)

	m.Angle, m.HasAngle = 90, true
	got, err = ParseRemotePlayerMoved(wire(t, m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestPlayerMoved_OptionalAngle(t *testing.T) {
	p := PlayerMoved{Pos: world.Position{Row: 4, Col: 7}}.Packet()
	assert.False(t, p.Has("angle"))
	got, err := ParsePlayerMoved(p)
	require.NoError(t, err)
	assert.False(t, got.HasAngle)

	got, err = ParsePlayerMoved(wire(t, PlayerMoved{Pos: world.Position{Row: 1, Col: 2}, Angle: 270, HasAngle: true}))
	require.NoError(t, err)
	assert.Equal(t, PlayerMoved{Pos: world.Position{Row: 1, Col: 2}, Angle: 270, HasAngle: true}, got)
}

func TestPlayerMoved_AngleTypeMismatch(t *testing.T) {
	p := packet.New(NamePlayerMoved)
	require.NoError(t, p.SetInt32("row", 1))
	require.NoError(t, p.SetInt32("col", 1))
	require.NoError(t, p.SetString("angle", "north"))
	_, err := ParsePlayerMoved(p)
	assert.True(t, errors.Is(err, packet.ErrFieldTypeMismatch))
}

func TestLobbyRuleDisplayChanged_Strings(t *testing.T) {
	rules := lobby.DefaultSettings().Display()
	p := wire(t, LobbyRuleDisplayChanged{Rules: rules})
	assert.True(t, p.Has("rule-strings.length"))
	got, err := ParseLobbyRuleDisplayChanged(p)
	require.NoError(t, err)
	assert.Equal(t, rules, got.Rules)

	got, err = ParseLobbyRuleDisplayChanged(wire(t, LobbyRuleDisplayChanged{}))
	require.NoError(t, err)
	assert.Empty(t, got.Rules)
}

func TestGameStarting(t *testing.T) {
	s := lobby.Settings{Map: "tiny", GhostCount: 1, BotCount: 2, TickInterval: 120 * time.Millisecond}
	got, err := ParseGameStarting(wire(t, GameStarting{Settings: s}))
	require.NoError(t, err)
	assert.Equal(t, s, got.Settings)

	s.TickInterval = 0
	_, err = ParseGameStarting(GameStarting{Settings: s}.Packet())
	assert.Error(t, err, "invalid settings are rejected")
}

func TestGameEnded(t *testing.T) {
	won := engine.Result{Outcome: engine.PlayerWon, WinnerID: 2, HasWinner: true}
	got, err := ParseGameEnded(wire(t, GameEnded{Result: won}))
	require.NoError(t, err)
	assert.Equal(t, won, got.Result)

	p := GameEnded{Result: engine.Result{Outcome: engine.GhostsWon}}.Packet()
	assert.False(t, p.Has("winner-id"))
	got, err = ParseGameEnded(p)
	require.NoError(t, err)
	assert.Equal(t, engine.GhostsWon, got.Result.Outcome)

	bad := packet.New(NameGameEnded)
	require.NoError(t, bad.SetString("outcome", "draw"))
	_, err = ParseGameEnded(bad)
	assert.Error(t, err)
}

func TestCellChanged(t *testing.T) {
	m := CellChanged{Pos: world.Position{Row: 2, Col: 5}, State: world.CellEmpty}
	got, err := ParseCellChanged(wire(t, m))
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = ParseCellChanged(CellChanged{Pos: m.Pos, State: "LAVA"}.Packet())
	assert.True(t, errors.Is(err, world.ErrInvalidCell))
}

func TestHandshakesAndLobby(t *testing.T) {
	sh, err := ParseServerHandshake(wire(t, ServerHandshake{ClientID: 3}))
	require.NoError(t, err)
	assert.Equal(t, 3, sh.ClientID)

	ch, err := ParseClientHandshake(wire(t, ClientHandshake{Username: "Alice Smith"}))
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", ch.Username)

	enter, err := ParseLobbyPlayerEnter(wire(t, LobbyPlayerEnter{PlayerID: 3, PlayerName: "Alice"}))
	require.NoError(t, err)
	assert.Equal(t, LobbyPlayerEnter{PlayerID: 3, PlayerName: "Alice"}, enter)

	left, err := ParseLobbyPlayerLeft(wire(t, LobbyPlayerLeft{PlayerID: 3}))
	require.NoError(t, err)
	assert.Equal(t, 3, left.PlayerID)
}

func TestEntityMessages(t *testing.T) {
	pj, err := ParseRemotePlayerJoined(wire(t, RemotePlayerJoined{PlayerID: 1, Name: "Bob", Pos: world.Position{Row: 1, Col: 1}}))
	require.NoError(t, err)
	assert.Equal(t, RemotePlayerJoined{PlayerID: 1, Name: "Bob", Pos: world.Position{Row: 1, Col: 1}}, pj)

	gj, err := ParseRemoteGhostJoined(wire(t, RemoteGhostJoined{GhostID: 1000, Pos: world.Position{Row: 5, Col: 9}}))
	require.NoError(t, err)
	assert.Equal(t, 1000, gj.GhostID)

	gm, err := ParseRemoteGhostMoved(wire(t, RemoteGhostMoved{GhostID: 9, Pos: world.Position{Row: 2, Col: 2}}))
	require.NoError(t, err)
	assert.Equal(t, RemoteGhostMoved{GhostID: 9, Pos: world.Position{Row: 2, Col: 2}}, gm)

	fm, err := ParseForceMove(wire(t, ForceMove{Pos: world.Position{Row: 1, Col: 1}, Angle: 0}))
	require.NoError(t, err)
	assert.Equal(t, world.Position{Row: 1, Col: 1}, fm.Pos)

	pl, err := ParseRemotePlayerLeft(wire(t, RemotePlayerLeft{PlayerID: 4}))
	require.NoError(t, err)
	assert.Equal(t, 4, pl.PlayerID)

	pd, err := ParseRemotePlayerDied(wire(t, RemotePlayerDied{PlayerID: 4}))
	require.NoError(t, err)
	assert.Equal(t, 4, pd.PlayerID)

	gl, err := ParseRemoteGhostLeft(wire(t, RemoteGhostLeft{GhostID: 1001}))
	require.NoError(t, err)
	assert.Equal(t, 1001, gl.GhostID)

	lp := wire(t, LocalPlayerDied{})
	assert.Equal(t, 0, lp.Len())
	_, err = ParseLocalPlayerDied(lp)
	require.NoError(t, err)
}

func TestParse_WrongNameAndMissingField(t *testing.T) {
	_, err := ParseServerHandshake(ClientHandshake{Username: "x"}.Packet())
	assert.True(t, errors.Is(err, ErrWrongMessage))

	_, err = ParseLocalPlayerDied(packet.New("local-player-died-2"))
	assert.True(t, errors.Is(err, ErrWrongMessage))

	_, err = ParseRemoteGhostMoved(packet.New(NameRemoteGhostMoved))
	assert.True(t, errors.Is(err, packet.ErrMissingField))
}
