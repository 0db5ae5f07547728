package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/protocol"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
	"github.com/cory-johannsen/gridchase/internal/testutil"
)

type runningClient struct {
	*Client
	stopped chan struct{}
	err     error
}

func startClient(t *testing.T, name string) *runningClient {
	t.Helper()
	cl, err := NewClient(ClientConfig{Username: name, Maps: world.NewLoader("")}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningClient{Client: cl, stopped: make(chan struct{})}
	go func() {
		rc.err = cl.Run(ctx)
		close(rc.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rc.stopped:
		case <-time.After(waitFor):
			t.Error("client did not stop")
		}
	})
	return rc
}

func (rc *runningClient) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-rc.stopped:
		assert.NoError(t, rc.err)
	case <-time.After(waitFor):
		t.Fatal("client did not stop")
	}
}

func (rc *runningClient) await(t *testing.T, cond func(ClientSnapshot) bool) ClientSnapshot {
	t.Helper()
	var snap ClientSnapshot
	require.Eventually(t, func() bool {
		s, err := rc.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return cond(s)
	}, waitFor, 5*time.Millisecond)
	return snap
}

// fakeServer connects rc to a socket the test drives by hand.
func fakeServer(t *testing.T, rc *runningClient) (srv, conn *testutil.PipeSocket) {
	t.Helper()
	srv, conn = testutil.SocketPair()
	require.NoError(t, rc.Connect(conn))
	t.Cleanup(func() { _ = srv.Close() })
	return srv, conn
}

// handshake assigns id and completes the lobby entry.
func handshake(t *testing.T, srv *testutil.PipeSocket, id int, rules ...string) {
	t.Helper()
	srv.Send(t, protocol.ServerHandshake{ClientID: id}.Packet())
	srv.ExpectNamed(t, protocol.NameClientHandshake, waitFor)
	srv.Send(t, protocol.LobbyRuleDisplayChanged{Rules: rules}.Packet())
}

func TestClient_HandshakeAndLobby(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)

	srv.Send(t, protocol.ServerHandshake{ClientID: 2}.Packet())
	ch, err := protocol.ParseClientHandshake(srv.ExpectNamed(t, protocol.NameClientHandshake, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "Alice", ch.Username)

	snap := rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientHandshakeSent })
	assert.Equal(t, 2, snap.ID)
	assert.False(t, snap.IsHost())

	srv.Send(t, protocol.LobbyPlayerEnter{PlayerID: 0, PlayerName: "Host"}.Packet())
	srv.Send(t, protocol.LobbyRuleDisplayChanged{Rules: []string{"Map: classic"}}.Packet())
	snap = rc.await(t, func(s ClientSnapshot) bool { return len(s.Rules) == 1 })
	assert.Equal(t, ClientInLobby, snap.State)
	assert.ElementsMatch(t, []lobby.PlayerInfo{{ID: 0, Name: "Host"}, {ID: 2, Name: "Alice"}}, snap.Players)

	srv.Send(t, protocol.LobbyPlayerLeft{PlayerID: 0}.Packet())
	snap = rc.await(t, func(s ClientSnapshot) bool { return len(s.Players) == 1 })
	assert.Equal(t, 2, snap.Players[0].ID)

	note := awaitNote(t, rc.Notifications(), func(n LobbyChanged) bool { return len(n.Players) == 1 })
	assert.Equal(t, []string{"Map: classic"}, note.Rules)
}

func TestClient_SecondHandshakeIsFatal(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)
	handshake(t, srv, 1)

	srv.Send(t, protocol.ServerHandshake{ClientID: 4}.Packet())
	srv.WaitClosed(t, waitFor)
	rc.waitStopped(t)

	pe := awaitNote(t, rc.Notifications(), func(n ProtocolError) bool { return n.Fatal })
	assert.ErrorIs(t, pe.Err, ErrUnexpectedHandshake)
	_, err := rc.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestClient_LobbyPacketBeforeHandshakeIsFatal(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)

	srv.Send(t, protocol.LobbyPlayerEnter{PlayerID: 0, PlayerName: "Host"}.Packet())
	srv.WaitClosed(t, waitFor)

	pe := awaitNote(t, rc.Notifications(), func(n ProtocolError) bool { return n.Fatal })
	assert.ErrorIs(t, pe.Err, ErrUnexpectedMessage)
	rc.waitStopped(t)
}

func TestClient_ServerCloseStopsClient(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)
	handshake(t, srv, 0)
	rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientInLobby })

	require.NoError(t, srv.Close())
	rc.waitStopped(t)
	awaitNote(t, rc.Notifications(), func(Disconnected) bool { return true })
}

func TestClient_IgnoresUpdatesForUnknownEntities(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, conn := fakeServer(t, rc)
	handshake(t, srv, 0)
	srv.Send(t, protocol.GameStarting{Settings: mapSettings("classic", 1, 0, time.Second)}.Packet())
	rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientInGame })

	srv.Send(t, protocol.RemoteGhostMoved{GhostID: 9, Pos: world.Position{Row: 1, Col: 2}}.Packet())
	snap := rc.await(t, func(s ClientSnapshot) bool { return s.Ignored == 1 })
	assert.Equal(t, ClientInGame, snap.State)
	_, ok := snap.Entity(9)
	assert.False(t, ok)
	assert.False(t, conn.IsClosed())

	srv.Send(t, protocol.RemoteGhostJoined{GhostID: 9, Pos: world.Position{Row: 5, Col: 9}}.Packet())
	srv.Send(t, protocol.RemoteGhostMoved{GhostID: 9, Pos: world.Position{Row: 5, Col: 10}}.Packet())
	snap = rc.await(t, func(s ClientSnapshot) bool {
		g, ok := s.Entity(9)
		return ok && g.Pos == world.Position{Row: 5, Col: 10}
	})
	assert.Equal(t, 1, snap.Ignored)

	srv.Send(t, protocol.RemotePlayerLeft{PlayerID: 42}.Packet())
	srv.Send(t, protocol.RemotePlayerMoved{PlayerID: 9, Pos: world.Position{Row: 1, Col: 3}}.Packet())
	rc.await(t, func(s ClientSnapshot) bool { return s.Ignored == 3 })
	assert.False(t, conn.IsClosed())
}

func TestClient_GamePacketsOutsideGameAreIgnored(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, conn := fakeServer(t, rc)
	handshake(t, srv, 0, "Map: tiny")

	srv.Send(t, protocol.CellChanged{Pos: world.Position{Row: 1, Col: 3}, State: world.CellEmpty}.Packet())
	srv.Send(t, protocol.GameEnded{Result: engine.Result{Outcome: engine.Tie}}.Packet())
	srv.Send(t, protocol.LobbyRuleDisplayChanged{Rules: []string{"Map: classic"}}.Packet())

	snap := rc.await(t, func(s ClientSnapshot) bool { return len(s.Rules) == 1 && s.Rules[0] == "Map: classic" })
	assert.Equal(t, ClientInLobby, snap.State)
	assert.False(t, snap.HasResult)
	assert.Zero(t, snap.Ignored)
	assert.False(t, conn.IsClosed())
}

func TestClient_GameLifecycle(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)
	handshake(t, srv, 0)
	rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientInLobby })

	assert.ErrorIs(t, rc.MoveLocalPlayer(context.Background(), world.Position{Row: 1, Col: 2}, 0), ErrNoGame)

	tiny, err := world.Builtin("tiny")
	require.NoError(t, err)
	settings := mapSettings("tiny", 0, 0, time.Second)
	srv.Send(t, protocol.GameStarting{Settings: settings}.Packet())
	srv.Send(t, protocol.ForceMove{Pos: tiny.Spawn()}.Packet())
	snap := rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientInGame })
	assert.Equal(t, settings, snap.Settings)
	assert.True(t, snap.IsHost())
	local, ok := snap.Local()
	require.True(t, ok)
	assert.Equal(t, tiny.Spawn(), local.Pos)
	assert.Equal(t, tiny.FoodRemaining(), snap.FoodRemaining)
	started := awaitNote(t, rc.Notifications(), func(GameStarting) bool { return true })
	assert.Equal(t, settings, started.Settings)

	err = rc.MoveLocalPlayer(context.Background(), world.Position{Row: 0, Col: 1}, 0)
	assert.ErrorIs(t, err, engine.ErrIllegalMove)

	to := world.Position{Row: 2, Col: 1}
	require.NoError(t, rc.MoveLocalPlayer(context.Background(), to, world.Down.Angle()))
	moved, err := protocol.ParsePlayerMoved(srv.ExpectNamed(t, protocol.NamePlayerMoved, waitFor))
	require.NoError(t, err)
	assert.Equal(t, to, moved.Pos)
	assert.True(t, moved.HasAngle)

	srv.Send(t, protocol.CellChanged{Pos: to, State: world.CellEmpty}.Packet())
	rc.await(t, func(s ClientSnapshot) bool { return s.FoodRemaining == tiny.FoodRemaining()-1 })

	srv.Send(t, protocol.ForceMove{Pos: tiny.Spawn()}.Packet())
	rc.await(t, func(s ClientSnapshot) bool {
		e, ok := s.Local()
		return ok && e.Pos == tiny.Spawn()
	})

	srv.Send(t, protocol.LocalPlayerDied{}.Packet())
	awaitNote(t, rc.Notifications(), func(LocalPlayerDied) bool { return true })
	snap = rc.await(t, func(s ClientSnapshot) bool {
		_, alive := s.Local()
		return !alive
	})
	assert.Equal(t, ClientInGame, snap.State)
	assert.ErrorIs(t, rc.MoveLocalPlayer(context.Background(), to, 0), ErrNoGame)

	srv.Send(t, protocol.GameEnded{Result: engine.Result{Outcome: engine.GhostsWon}}.Packet())
	snap = rc.await(t, func(s ClientSnapshot) bool { return s.HasResult })
	assert.Equal(t, ClientInLobby, snap.State)
	assert.Equal(t, engine.GhostsWon, snap.LastResult.Outcome)
	assert.Empty(t, snap.Entities)
}

func TestClient_FailedMoveSendLeavesMirror(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, _ := fakeServer(t, rc)
	handshake(t, srv, 0)
	tiny, err := world.Builtin("tiny")
	require.NoError(t, err)
	srv.Send(t, protocol.GameStarting{Settings: mapSettings("tiny", 0, 0, time.Second)}.Packet())
	srv.Send(t, protocol.ForceMove{Pos: tiny.Spawn()}.Packet())
	rc.await(t, func(s ClientSnapshot) bool {
		e, ok := s.Local()
		return s.State == ClientInGame && ok && e.Pos == tiny.Spawn()
	})

	// Drop the connection and attempt the move in the same loop turn, before
	// the disconnect is processed.
	var (
		moveErr error
		after   world.Entity
		found   bool
	)
	_ = rc.c.call(context.Background(), func() error {
		_ = rc.c.conns.Close(rc.serverConn, nil)
		moveErr = rc.moveLocal(world.Position{Row: 2, Col: 1}, world.Down.Angle())
		after, found = rc.world.Entity(rc.id)
		return nil
	})
	assert.ErrorIs(t, moveErr, network.ErrClosed)
	require.True(t, found)
	assert.Equal(t, tiny.Spawn(), after.Pos)
	rc.waitStopped(t)
}

func TestClient_StaleMalformedGameEndedIsIgnored(t *testing.T) {
	rc := startClient(t, "Alice")
	srv, conn := fakeServer(t, rc)
	handshake(t, srv, 0)
	rc.await(t, func(s ClientSnapshot) bool { return s.State == ClientInLobby })

	srv.Send(t, packet.New(protocol.NameGameEnded))
	srv.Send(t, protocol.LobbyRuleDisplayChanged{Rules: []string{"Map: classic"}}.Packet())

	snap := rc.await(t, func(s ClientSnapshot) bool { return len(s.Rules) == 1 })
	assert.Equal(t, ClientInLobby, snap.State)
	assert.False(t, snap.HasResult)
	assert.False(t, conn.IsClosed())
	select {
	case <-rc.stopped:
		t.Fatal("client stopped on a stale game-ended")
	default:
	}
}

func TestClient_AgainstServer(t *testing.T) {
	s := startServer(t, ServerConfig{})
	connect := func(name string) *runningClient {
		rc := startClient(t, name)
		srvSide, clientSide := testutil.SocketPair()
		_, err := s.Manager().Add(srvSide)
		require.NoError(t, err)
		require.NoError(t, rc.Connect(clientSide))
		return rc
	}
	alice := connect("Alice")
	alice.await(t, func(s ClientSnapshot) bool { return s.State == ClientInLobby })
	bob := connect("Bob")

	inLobby := func(s ClientSnapshot) bool { return s.State == ClientInLobby && len(s.Players) == 2 }
	aSnap := alice.await(t, inLobby)
	bSnap := bob.await(t, inLobby)
	assert.True(t, aSnap.IsHost())
	assert.False(t, bSnap.IsHost())
	assert.Equal(t, 1, bSnap.ID)
	assert.Equal(t, mapSettings("classic", 0, 0, time.Hour).Display(), bSnap.Rules)

	require.NoError(t, s.StartGame(context.Background()))
	inGame := func(s ClientSnapshot) bool { return s.State == ClientInGame && len(s.Entities) == 2 }
	alice.await(t, inGame)
	bSnap = bob.await(t, inGame)
	host, ok := bSnap.Entity(0)
	require.True(t, ok)
	assert.Equal(t, "Alice", host.Name)

	classic, err := world.Builtin("classic")
	require.NoError(t, err)
	to := world.Position{Row: 1, Col: 2}
	require.NoError(t, alice.MoveLocalPlayer(context.Background(), to, world.Right.Angle()))

	bob.await(t, func(s ClientSnapshot) bool {
		e, ok := s.Entity(0)
		return ok && e.Pos == to && s.FoodRemaining == classic.FoodRemaining()-1
	})
	alice.await(t, func(s ClientSnapshot) bool { return s.FoodRemaining == classic.FoodRemaining()-1 })

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	ent, ok := st.Entity(0)
	require.True(t, ok)
	assert.Equal(t, 1, ent.Score)
}
