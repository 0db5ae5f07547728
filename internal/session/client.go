package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/protocol"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
	"github.com/cory-johannsen/gridchase/internal/protocol/trigger"
)

// ParticipantState is the lifecycle state of a Client.
type ParticipantState int

const (
	ClientConnecting ParticipantState = iota + 1
	ClientHandshakeSent
	ClientInLobby
	ClientInGame
	ClientDisconnected
)

// String returns the lowercase state name.
func (s ParticipantState) String() string {
	switch s {
	case ClientConnecting:
		return "connecting"
	case ClientHandshakeSent:
		return "handshake-sent"
	case ClientInLobby:
		return "in-lobby"
	case ClientInGame:
		return "in-game"
	case ClientDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("participant-state(%d)", int(s))
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Username   string
	Maps       MapLoader
	OutboxSize int
}

// Client is the participant session. It mirrors the server's lobby and
// world and forwards the local player's moves upstream.
type Client struct {
	c      *core
	cfg    ClientConfig
	logger *zap.Logger

	state      ParticipantState
	serverConn int
	id         int
	hasID      bool
	name       string
	lobby      *lobby.Lobby
	settings   lobby.Settings
	world      *world.World
	ignored    int
	result     engine.Result
	hasResult  bool
}

// NewClient creates a Client.
//
// Precondition: cfg.Maps must be non-nil.
// Postcondition: Returns a Client ready to Connect and Run.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Maps == nil {
		return nil, errors.New("client: map loader is required")
	}
	c := newCore(RoleClient, network.Options{MaxClients: 1, OutboxSize: cfg.OutboxSize}, logger)
	cl := &Client{
		c:      c,
		cfg:    cfg,
		logger: c.logger,
		state:  ClientConnecting,
		lobby:  lobby.New(),
	}
	c.handler = cl

	bindings := []struct {
		name string
		h    trigger.Handler
	}{
		{protocol.NameServerHandshake, cl.onServerHandshake},
		{protocol.NameLobbyPlayerEnter, cl.onLobbyPlayerEnter},
		{protocol.NameLobbyPlayerLeft, cl.onLobbyPlayerLeft},
		{protocol.NameLobbyRuleDisplayChanged, cl.onLobbyRuleDisplayChanged},
		{protocol.NameGameStarting, cl.onGameStarting},
		{protocol.NameForceMove, cl.onForceMove},
		{protocol.NameRemotePlayerJoined, cl.onRemotePlayerJoined},
		{protocol.NameRemoteGhostJoined, cl.onRemoteGhostJoined},
		{protocol.NameRemotePlayerMoved, cl.onRemotePlayerMoved},
		{protocol.NameRemoteGhostMoved, cl.onRemoteGhostMoved},
		{protocol.NameRemotePlayerLeft, cl.onRemotePlayerGone},
		{protocol.NameRemotePlayerDied, cl.onRemotePlayerGone},
		{protocol.NameLocalPlayerDied, cl.onLocalPlayerDied},
		{protocol.NameRemoteGhostLeft, cl.onRemoteGhostLeft},
		{protocol.NameCellChanged, cl.onCellChanged},
		{protocol.NameGameEnded, cl.onGameEnded},
	}
	for _, b := range bindings {
		if err := c.on(b.name, b.h); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// Connect attaches the socket to the server.
//
// Postcondition: Returns an error without taking ownership of sock if the
// client is already connected.
func (cl *Client) Connect(sock network.Socket) error {
	if _, err := cl.c.conns.Add(sock); err != nil {
		return fmt.Errorf("client connect: %w", err)
	}
	return nil
}

// Run drives the session until ctx is cancelled or the server connection
// closes.
func (cl *Client) Run(ctx context.Context) error {
	return cl.c.run(ctx)
}

// Notifications returns the channel of session transitions.
func (cl *Client) Notifications() <-chan Notification {
	return cl.c.notes.ch
}

// MoveLocalPlayer moves the local player and sends the intent upstream.
// The server may answer with a force-move correction.
//
// Postcondition: Returns ErrNoGame outside a game or after the local
// player was caught, and engine.ErrIllegalMove for a wall.
func (cl *Client) MoveLocalPlayer(ctx context.Context, pos world.Position, angle float64) error {
	return cl.c.call(ctx, func() error { return cl.moveLocal(pos, angle) })
}

// moveLocal runs on the loop. The mirror only follows an intent the server
// will see, so a failed send leaves it untouched.
func (cl *Client) moveLocal(pos world.Position, angle float64) error {
	if cl.state != ClientInGame || cl.world == nil {
		return ErrNoGame
	}
	if _, ok := cl.world.Entity(cl.id); !ok {
		return fmt.Errorf("%w: local player was caught", ErrNoGame)
	}
	if !cl.world.Map().Walkable(pos) {
		return fmt.Errorf("%w: %s", engine.ErrIllegalMove, pos)
	}
	if err := cl.c.conns.SendTo(cl.serverConn, protocol.PlayerMoved{Pos: pos, Angle: angle, HasAngle: true}.Packet()); err != nil {
		return err
	}
	return cl.world.MoveWithAngle(cl.id, pos, angle)
}

func (cl *Client) connected(id int, addr string) {
	cl.serverConn = id
	cl.state = ClientConnecting
	cl.logger.Info("connected to server", zap.String("remote_addr", addr))
}

func (cl *Client) disconnected(_ int, cause error) bool {
	cl.state = ClientDisconnected
	cl.world = nil
	cl.lobby.Clear()
	cl.logger.Info("disconnected from server", zap.NamedError("cause", cause))
	return true
}

func (cl *Client) tick() {}

func (cl *Client) settle() {
	if cl.world != nil {
		cl.world.Drain()
	}
}

func (cl *Client) onServerHandshake(_ int, p *packet.Packet) error {
	if cl.hasID {
		return fmt.Errorf("%w: already assigned id %d", ErrUnexpectedHandshake, cl.id)
	}
	msg, err := protocol.ParseServerHandshake(p)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(cl.cfg.Username)
	if name == "" {
		name = fmt.Sprintf("Player %d", msg.ClientID)
	}
	if err := cl.lobby.Add(lobby.PlayerInfo{ID: msg.ClientID, Name: name}); err != nil {
		return err
	}
	cl.id, cl.hasID, cl.name = msg.ClientID, true, name
	cl.state = ClientHandshakeSent
	cl.logger.Info("assigned client id", zap.Int("client_id", cl.id))
	return cl.c.conns.SendTo(cl.serverConn, protocol.ClientHandshake{Username: name}.Packet())
}

// requireHandshake rejects lobby and game packets that precede the
// server handshake.
func (cl *Client) requireHandshake(name string) error {
	if !cl.hasID {
		return fmt.Errorf("%w: %s before server handshake", ErrUnexpectedMessage, name)
	}
	if cl.state == ClientHandshakeSent {
		cl.state = ClientInLobby
	}
	return nil
}

func (cl *Client) onLobbyPlayerEnter(_ int, p *packet.Packet) error {
	if err := cl.requireHandshake(p.Name()); err != nil {
		return err
	}
	msg, err := protocol.ParseLobbyPlayerEnter(p)
	if err != nil {
		return err
	}
	if err := cl.lobby.Add(lobby.PlayerInfo{ID: msg.PlayerID, Name: msg.PlayerName}); err != nil {
		cl.logger.Debug("ignoring repeated lobby entry", zap.Int("player_id", msg.PlayerID))
		return nil
	}
	cl.publishLobby()
	return nil
}

func (cl *Client) onLobbyPlayerLeft(_ int, p *packet.Packet) error {
	if err := cl.requireHandshake(p.Name()); err != nil {
		return err
	}
	msg, err := protocol.ParseLobbyPlayerLeft(p)
	if err != nil {
		return err
	}
	if cl.lobby.Remove(msg.PlayerID) {
		cl.publishLobby()
	}
	return nil
}

func (cl *Client) onLobbyRuleDisplayChanged(_ int, p *packet.Packet) error {
	if err := cl.requireHandshake(p.Name()); err != nil {
		return err
	}
	msg, err := protocol.ParseLobbyRuleDisplayChanged(p)
	if err != nil {
		return err
	}
	cl.lobby.SetRules(msg.Rules)
	cl.publishLobby()
	return nil
}

func (cl *Client) onGameStarting(_ int, p *packet.Packet) error {
	if err := cl.requireHandshake(p.Name()); err != nil {
		return err
	}
	msg, err := protocol.ParseGameStarting(p)
	if err != nil {
		return err
	}
	m, err := cl.cfg.Maps.Load(msg.Settings.Map)
	if err != nil {
		return fmt.Errorf("loading map for game: %w", err)
	}
	w := world.New(m)
	if err := w.Add(world.Entity{ID: cl.id, Kind: world.KindPlayer, Name: cl.name, Pos: m.Spawn()}); err != nil {
		return err
	}
	cl.world = w
	cl.settings = msg.Settings
	cl.state = ClientInGame
	cl.hasResult = false
	cl.logger.Info("game starting", zap.String("map", msg.Settings.Map))
	cl.c.notes.publish(GameStarting{Settings: msg.Settings})
	return nil
}

// inGame reports whether game packets apply. Outside a game they are
// stale and dropped.
func (cl *Client) inGame(name string) bool {
	if cl.state == ClientInGame && cl.world != nil {
		return true
	}
	cl.logger.Debug("ignoring game packet outside a game", zap.String("packet", name))
	return false
}

// ignore counts an update for an entity the client was never told about.
func (cl *Client) ignore(name string, id int) {
	cl.ignored++
	cl.logger.Debug("ignoring update for unknown entity",
		zap.String("packet", name),
		zap.Int("entity_id", id),
	)
}

func (cl *Client) onForceMove(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseForceMove(p)
	if err != nil {
		return err
	}
	if _, ok := cl.world.Entity(cl.id); !ok {
		return nil
	}
	return cl.world.MoveWithAngle(cl.id, msg.Pos, msg.Angle)
}

func (cl *Client) addRemote(name string, ent world.Entity) error {
	err := cl.world.Add(ent)
	if errors.Is(err, world.ErrDuplicateEntity) {
		cl.logger.Debug("ignoring repeated join", zap.String("packet", name), zap.Int("entity_id", ent.ID))
		return nil
	}
	return err
}

func (cl *Client) onRemotePlayerJoined(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseRemotePlayerJoined(p)
	if err != nil {
		return err
	}
	return cl.addRemote(p.Name(), world.Entity{ID: msg.PlayerID, Kind: world.KindPlayer, Name: msg.Name, Pos: msg.Pos})
}

func (cl *Client) onRemoteGhostJoined(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseRemoteGhostJoined(p)
	if err != nil {
		return err
	}
	return cl.addRemote(p.Name(), world.Entity{ID: msg.GhostID, Kind: world.KindGhost, Pos: msg.Pos})
}

// known reports whether id is a mirrored entity of kind k.
func (cl *Client) known(id int, k world.Kind) bool {
	ent, ok := cl.world.Entity(id)
	return ok && ent.Kind == k
}

func (cl *Client) onRemotePlayerMoved(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseRemotePlayerMoved(p)
	if err != nil {
		return err
	}
	if !cl.known(msg.PlayerID, world.KindPlayer) {
		cl.ignore(p.Name(), msg.PlayerID)
		return nil
	}
	if msg.HasAngle {
		return cl.world.MoveWithAngle(msg.PlayerID, msg.Pos, msg.Angle)
	}
	return cl.world.Move(msg.PlayerID, msg.Pos)
}

func (cl *Client) onRemoteGhostMoved(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseRemoteGhostMoved(p)
	if err != nil {
		return err
	}
	if !cl.known(msg.GhostID, world.KindGhost) {
		cl.ignore(p.Name(), msg.GhostID)
		return nil
	}
	return cl.world.Move(msg.GhostID, msg.Pos)
}

// onRemotePlayerGone handles both remote-player-left and remote-player-died;
// the mirror drops the entity either way.
func (cl *Client) onRemotePlayerGone(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	id, err := p.Int32("player-id")
	if err != nil {
		return err
	}
	if !cl.known(int(id), world.KindPlayer) {
		cl.ignore(p.Name(), int(id))
		return nil
	}
	_, err = cl.world.Remove(int(id))
	return err
}

func (cl *Client) onLocalPlayerDied(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	if _, err := protocol.ParseLocalPlayerDied(p); err != nil {
		return err
	}
	if _, ok := cl.world.Entity(cl.id); ok {
		if _, err := cl.world.Remove(cl.id); err != nil {
			return err
		}
	}
	cl.logger.Info("local player caught")
	cl.c.notes.publish(LocalPlayerDied{})
	return nil
}

func (cl *Client) onRemoteGhostLeft(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseRemoteGhostLeft(p)
	if err != nil {
		return err
	}
	if !cl.known(msg.GhostID, world.KindGhost) {
		cl.ignore(p.Name(), msg.GhostID)
		return nil
	}
	_, err = cl.world.Remove(msg.GhostID)
	return err
}

func (cl *Client) onCellChanged(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseCellChanged(p)
	if err != nil {
		return err
	}
	return cl.world.SetCell(msg.Pos, msg.State)
}

func (cl *Client) onGameEnded(_ int, p *packet.Packet) error {
	if !cl.inGame(p.Name()) {
		return nil
	}
	msg, err := protocol.ParseGameEnded(p)
	if err != nil {
		return err
	}
	cl.state = ClientInLobby
	cl.world = nil
	cl.result, cl.hasResult = msg.Result, true
	cl.logger.Info("game ended", zap.Stringer("outcome", msg.Result.Outcome))
	cl.c.notes.publish(GameEnded{Result: msg.Result})
	return nil
}

func (cl *Client) publishLobby() {
	cl.c.notes.publish(LobbyChanged{Players: cl.lobby.Players(), Rules: cl.lobby.Rules()})
}
