package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/match"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/protocol"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// Phase is the game-level state of a server session.
type Phase int

const (
	LobbyPhase Phase = iota + 1
	GamePhase
	Ended
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case LobbyPhase:
		return "lobby"
	case GamePhase:
		return "game"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ClientState is the server's view of one connection.
type ClientState int

const (
	AwaitingHandshake ClientState = iota + 1
	InLobby
	InGame
)

// String returns the lowercase state name.
func (s ClientState) String() string {
	switch s {
	case AwaitingHandshake:
		return "awaiting-handshake"
	case InLobby:
		return "in-lobby"
	case InGame:
		return "in-game"
	default:
		return fmt.Sprintf("client-state(%d)", int(s))
	}
}

// MapLoader resolves map names. world.Loader implements it.
type MapLoader interface {
	Load(name string) (*world.Map, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// MaxClients caps connections. Values outside 1..engine.BotIDBase are
	// clamped so client IDs never collide with bot or ghost IDs.
	MaxClients int
	OutboxSize int
	Settings   lobby.Settings
	Maps       MapLoader
	// Rand drives ghosts and bots. Nil selects math/rand/v2.
	Rand engine.Source
	// Recorder persists match records. Nil disables recording.
	Recorder match.Recorder
	// AutostartPlayers starts a game once the lobby holds this many
	// players. Zero disables autostart.
	AutostartPlayers int
	// RestartDelay is the pause after a game ends before autostart.
	RestartDelay time.Duration
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type remoteClient struct {
	state ClientState
	name  string
	addr  string
}

// Server is the authoritative session. It assigns client IDs, owns the
// lobby and the match, and is the only source of entity positions.
type Server struct {
	c        *core
	cfg      ServerConfig
	logger   *zap.Logger
	recorder *asyncRecorder

	clients  map[int]*remoteClient
	lobby    *lobby.Lobby
	settings lobby.Settings
	phase    Phase

	game         *engine.Engine
	matchID      uuid.UUID
	participants []lobby.PlayerInfo
	repl         *replication
	scores       map[int]match.Score
	// retired holds IDs whose player entity is gone for a reason the
	// client may not have seen yet; their stale moves are ignored.
	retired map[int]bool
	endedAt time.Time
}

// NewServer creates a Server.
//
// Precondition: cfg.Maps must be non-nil; cfg.Settings must be valid.
// Postcondition: Returns a Server ready to Run, or a non-nil error.
func NewServer(cfg ServerConfig, logger *zap.Logger) (*Server, error) {
	if cfg.Maps == nil {
		return nil, errors.New("server: map loader is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if _, err := cfg.Maps.Load(cfg.Settings.Map); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if cfg.MaxClients <= 0 || cfg.MaxClients > engine.BotIDBase {
		cfg.MaxClients = engine.BotIDBase
	}
	if cfg.Rand == nil {
		cfg.Rand = globalSource{}
	}

	c := newCore(RoleServer, network.Options{MaxClients: cfg.MaxClients, OutboxSize: cfg.OutboxSize}, logger)
	s := &Server{
		c:        c,
		cfg:      cfg,
		logger:   c.logger,
		clients:  make(map[int]*remoteClient),
		lobby:    lobby.New(),
		settings: cfg.Settings,
		phase:    LobbyPhase,
		repl:     newReplication(),
		scores:   make(map[int]match.Score),
		retired:  make(map[int]bool),
	}
	s.lobby.SetRules(cfg.Settings.Display())
	c.handler = s
	c.ticks = newTickSource(cfg.Settings.TickInterval)
	if cfg.Recorder != nil {
		s.recorder = newAsyncRecorder(cfg.Recorder, c.logger)
		c.workers = append(c.workers, s.recorder.run)
	}

	if err := c.on(protocol.NameClientHandshake, s.onClientHandshake); err != nil {
		return nil, err
	}
	if err := c.on(protocol.NamePlayerMoved, s.onPlayerMoved); err != nil {
		return nil, err
	}
	return s, nil
}

// Manager returns the connection manager transports add sockets to.
func (s *Server) Manager() *network.Manager {
	return s.c.conns
}

// Notifications returns the channel of session transitions.
func (s *Server) Notifications() <-chan Notification {
	return s.c.notes.ch
}

// Run drives the session until ctx is cancelled.
//
// Postcondition: All connections are closed when Run returns.
func (s *Server) Run(ctx context.Context) error {
	return s.c.run(ctx)
}

// StartGame begins a match with the current lobby and settings. A previous
// match is torn down first.
//
// Postcondition: Returns ErrGameInProgress or ErrNoPlayers without
// changing state.
func (s *Server) StartGame(ctx context.Context) error {
	return s.c.call(ctx, s.startGame)
}

// SetSettings replaces the match settings and republishes the lobby rules.
//
// Postcondition: Returns ErrGameInProgress while a match runs.
func (s *Server) SetSettings(ctx context.Context, settings lobby.Settings) error {
	return s.c.call(ctx, func() error { return s.setSettings(settings) })
}

func (s *Server) connected(id int, addr string) {
	s.clients[id] = &remoteClient{state: AwaitingHandshake, addr: addr}
	s.sendTo(id, protocol.ServerHandshake{ClientID: id})
}

func (s *Server) onClientHandshake(sender int, p *packet.Packet) error {
	rc, ok := s.clients[sender]
	if !ok {
		return fmt.Errorf("%w: unknown connection %d", ErrIllegalSender, sender)
	}
	if rc.state != AwaitingHandshake {
		return fmt.Errorf("%w: client %d already joined", ErrUnexpectedHandshake, sender)
	}
	msg, err := protocol.ParseClientHandshake(p)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(msg.Username)
	if name == "" {
		name = fmt.Sprintf("Player %d", sender)
	}
	if err := s.lobby.Add(lobby.PlayerInfo{ID: sender, Name: name}); err != nil {
		return err
	}
	rc.state = InLobby
	rc.name = name

	for _, member := range s.lobby.Players() {
		if member.ID != sender {
			s.sendTo(sender, protocol.LobbyPlayerEnter{PlayerID: member.ID, PlayerName: member.Name})
		}
	}
	s.sendTo(sender, protocol.LobbyRuleDisplayChanged{Rules: s.lobby.Rules()})
	s.c.conns.BroadcastWhere(protocol.LobbyPlayerEnter{PlayerID: sender, PlayerName: name}.Packet(),
		func(id int) bool { return id != sender && s.joined(id) })

	s.logger.Info("player joined lobby",
		zap.Int("client_id", sender),
		zap.String("name", name),
		zap.Int("lobby_size", s.lobby.Len()),
	)
	s.publishLobby()
	s.maybeAutostart()
	return nil
}

func (s *Server) onPlayerMoved(sender int, p *packet.Packet) error {
	msg, err := protocol.ParsePlayerMoved(p)
	if err != nil {
		return err
	}
	var ent world.Entity
	var ok bool
	if s.game != nil {
		ent, ok = s.game.World().Entity(sender)
	}
	if !ok || ent.Kind != world.KindPlayer || ent.Bot {
		if s.retired[sender] {
			s.logger.Debug("ignoring move from retired player", zap.Int("client_id", sender))
			return nil
		}
		return fmt.Errorf("%w: %d has no player entity", ErrIllegalSender, sender)
	}

	err = s.game.MovePlayer(sender, msg.Pos, msg.Angle, msg.HasAngle)
	if errors.Is(err, engine.ErrIllegalMove) {
		s.logger.Debug("correcting illegal move",
			zap.Int("client_id", sender),
			zap.Stringer("to", msg.Pos),
		)
		s.sendTo(sender, protocol.ForceMove{Pos: ent.Pos, Angle: ent.Angle})
		return nil
	}
	return err
}

func (s *Server) disconnected(id int, _ error) bool {
	delete(s.clients, id)
	if s.lobby.Remove(id) {
		s.c.conns.BroadcastWhere(protocol.LobbyPlayerLeft{PlayerID: id}.Packet(), s.joined)
		s.publishLobby()
	}
	if s.game != nil {
		if ent, ok := s.game.World().Entity(id); ok && ent.Kind == world.KindPlayer && !ent.Bot {
			if err := s.game.RemovePlayer(id); err != nil {
				s.logger.Error("removing player", zap.Int("client_id", id), zap.Error(err))
			}
		}
	}
	s.repl.dropClient(id)
	delete(s.retired, id)
	s.c.conns.Release(id)
	return false
}

func (s *Server) tick() {
	if s.phase == GamePhase && s.game != nil {
		if err := s.game.Step(); err != nil {
			s.logger.Error("stepping game", zap.Error(err))
		}
		return
	}
	s.maybeAutostart()
}

func (s *Server) settle() {
	if s.game == nil {
		return
	}
	s.flush()
	if r := s.game.Judge(); r.Finished() {
		s.endGame(r)
	}
}

func (s *Server) maybeAutostart() {
	if s.cfg.AutostartPlayers <= 0 || s.phase == GamePhase || s.lobby.Len() < s.cfg.AutostartPlayers {
		return
	}
	if s.phase == Ended && time.Since(s.endedAt) < s.cfg.RestartDelay {
		return
	}
	if err := s.startGame(); err != nil {
		s.logger.Warn("autostart failed", zap.Error(err))
	}
}

func (s *Server) startGame() error {
	if s.phase == GamePhase {
		return ErrGameInProgress
	}
	players := s.lobby.Players()
	if len(players) == 0 {
		return ErrNoPlayers
	}
	m, err := s.cfg.Maps.Load(s.settings.Map)
	if err != nil {
		return fmt.Errorf("loading map: %w", err)
	}
	eng := engine.New(m, s.settings, s.cfg.Rand)
	if err := eng.Populate(players); err != nil {
		return fmt.Errorf("populating match: %w", err)
	}

	s.teardown()
	s.c.conns.BroadcastWhere(protocol.GameStarting{Settings: s.settings}.Packet(), s.joined)
	for _, p := range players {
		s.clients[p.ID].state = InGame
	}
	s.game = eng
	s.phase = GamePhase
	s.matchID = uuid.New()
	s.participants = players
	s.scores = make(map[int]match.Score)
	s.retired = make(map[int]bool)

	s.flush()
	spawn := eng.World().Map().Spawn()
	for _, p := range players {
		s.sendTo(p.ID, protocol.ForceMove{Pos: spawn})
	}
	s.c.ticks.SetInterval(s.settings.TickInterval)

	if s.recorder != nil {
		s.recorder.started(match.Start{
			ID:        s.matchID,
			Settings:  s.settings,
			Players:   players,
			StartedAt: time.Now().UTC(),
		})
	}
	s.logger.Info("game started",
		zap.Stringer("match_id", s.matchID),
		zap.String("map", s.settings.Map),
		zap.Int("players", len(players)),
		zap.Int("ghosts", s.settings.GhostCount),
		zap.Int("bots", s.settings.BotCount),
	)
	s.c.notes.publish(GameStarting{Settings: s.settings, MatchID: s.matchID})
	return nil
}

func (s *Server) endGame(r engine.Result) {
	s.c.conns.BroadcastWhere(protocol.GameEnded{Result: r}.Packet(), s.joined)

	for _, ent := range s.game.World().EntitiesOf(world.KindPlayer) {
		s.scores[ent.ID] = match.Score{EntityID: ent.ID, Name: ent.Name, Score: ent.Score, Bot: ent.Bot}
	}
	if s.recorder != nil {
		end := match.End{ID: s.matchID, Result: r, EndedAt: time.Now().UTC()}
		for _, sc := range s.scores {
			end.Scores = append(end.Scores, sc)
		}
		s.recorder.ended(end)
	}

	for _, rc := range s.clients {
		if rc.state == InGame {
			rc.state = InLobby
		}
	}
	for _, p := range s.participants {
		s.retired[p.ID] = true
	}
	s.phase = Ended
	s.endedAt = time.Now()
	s.teardown()

	s.logger.Info("game ended",
		zap.Stringer("match_id", s.matchID),
		zap.Stringer("outcome", r.Outcome),
		zap.Int("winner_id", r.WinnerID),
	)
	s.c.notes.publish(GameEnded{Result: r})
}

// teardown drops the current match and its replication records.
func (s *Server) teardown() {
	s.game = nil
	s.repl.reset()
}

func (s *Server) setSettings(settings lobby.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if s.phase == GamePhase {
		return ErrGameInProgress
	}
	if _, err := s.cfg.Maps.Load(settings.Map); err != nil {
		return err
	}
	s.settings = settings
	s.lobby.SetRules(settings.Display())
	s.c.conns.BroadcastWhere(protocol.LobbyRuleDisplayChanged{Rules: s.lobby.Rules()}.Packet(), s.joined)
	s.c.ticks.SetInterval(settings.TickInterval)
	s.publishLobby()
	return nil
}

// flush replicates every world change recorded since the last flush.
func (s *Server) flush() {
	for _, ev := range s.game.World().Drain() {
		switch e := ev.(type) {
		case world.EntityAdded:
			s.replicateJoin(e.Entity)
		case world.EntityMoved:
			s.replicateMove(e.Entity, e.HasAngle)
		case world.EntityRemoving:
			s.replicateRemove(e.Entity)
		case world.CellChanged:
			s.c.conns.BroadcastWhere(protocol.CellChanged{Pos: e.Pos, State: e.State}.Packet(), s.inGame)
		}
	}
}

// replicateJoin introduces an entity to every in-game client except its
// owner, recording who was told.
func (s *Server) replicateJoin(ent world.Entity) {
	var msg protocol.Message
	switch ent.Kind {
	case world.KindPlayer:
		msg = protocol.RemotePlayerJoined{PlayerID: ent.ID, Name: ent.Name, Pos: ent.Pos}
	case world.KindGhost:
		msg = protocol.RemoteGhostJoined{GhostID: ent.ID, Pos: ent.Pos}
	default:
		return
	}
	s.c.conns.BroadcastWhere(msg.Packet(), func(id int) bool {
		if id == ent.ID || !s.inGame(id) {
			return false
		}
		s.repl.inform(ent.ID, id)
		return true
	})
}

// replicateMove relays a move to informed clients. A connected owner moved
// its own player and is not echoed; bot and ghost moves go to everyone
// informed.
func (s *Server) replicateMove(ent world.Entity, hasAngle bool) {
	var msg protocol.Message
	switch ent.Kind {
	case world.KindPlayer:
		msg = protocol.RemotePlayerMoved{PlayerID: ent.ID, Pos: ent.Pos, Angle: ent.Angle, HasAngle: hasAngle}
	case world.KindGhost:
		msg = protocol.RemoteGhostMoved{GhostID: ent.ID, Pos: ent.Pos}
	default:
		return
	}
	remoteOwner := ent.Kind == world.KindPlayer && s.c.conns.IsConnected(ent.ID)
	s.c.conns.BroadcastWhere(msg.Packet(), func(id int) bool {
		if remoteOwner && id == ent.ID {
			return false
		}
		return s.repl.knows(ent.ID, id)
	})
}

// replicateRemove announces a departing entity. A player whose owner is
// still in the lobby, or a bot, was caught; otherwise its owner left.
func (s *Server) replicateRemove(ent world.Entity) {
	informed := func(id int) bool { return id != ent.ID && s.repl.knows(ent.ID, id) }
	switch ent.Kind {
	case world.KindGhost:
		s.c.conns.BroadcastWhere(protocol.RemoteGhostLeft{GhostID: ent.ID}.Packet(), informed)
	case world.KindPlayer:
		caught := ent.Bot || s.lobby.Contains(ent.ID)
		s.scores[ent.ID] = match.Score{EntityID: ent.ID, Name: ent.Name, Score: ent.Score, Bot: ent.Bot, Caught: caught}
		if !caught {
			s.c.conns.BroadcastWhere(protocol.RemotePlayerLeft{PlayerID: ent.ID}.Packet(), informed)
			break
		}
		s.c.conns.BroadcastWhere(protocol.RemotePlayerDied{PlayerID: ent.ID}.Packet(), informed)
		if !ent.Bot {
			s.retired[ent.ID] = true
			s.sendTo(ent.ID, protocol.LocalPlayerDied{})
		}
		s.logger.Info("player caught", zap.Int("entity_id", ent.ID), zap.Int("score", ent.Score))
	}
	s.repl.forget(ent.ID)
}

func (s *Server) sendTo(id int, msg protocol.Message) {
	p := msg.Packet()
	if err := s.c.conns.SendTo(id, p); err != nil {
		s.logger.Debug("send failed",
			zap.Int("conn_id", id),
			zap.String("packet", p.Name()),
			zap.Error(err),
		)
	}
}

// joined reports whether id completed the handshake.
func (s *Server) joined(id int) bool {
	rc, ok := s.clients[id]
	return ok && rc.state != AwaitingHandshake
}

func (s *Server) inGame(id int) bool {
	rc, ok := s.clients[id]
	return ok && rc.state == InGame
}

func (s *Server) publishLobby() {
	s.c.notes.publish(LobbyChanged{Players: s.lobby.Players(), Rules: s.lobby.Rules()})
}
