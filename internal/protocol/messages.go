// Package protocol defines the message catalog exchanged between the
// authoritative server and its participants, and converts each message to
// and from its packet form.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

// ErrWrongMessage is returned when parsing a packet whose name does not
// match the requested message.
var ErrWrongMessage = errors.New("wrong message name")

// Packet names.
const (
	NameServerHandshake         = "server-handshake"
	NameClientHandshake         = "client-handshake"
	NameLobbyPlayerEnter        = "lobby-player-enter"
	NameLobbyPlayerLeft         = "lobby-player-left"
	NameLobbyRuleDisplayChanged = "lobby-rule-display-changed"
	NameGameStarting            = "game-starting"
	NameForceMove               = "force-move"
	NamePlayerMoved             = "player-moved"
	NameRemotePlayerMoved       = "remote-player-moved"
	NameRemoteGhostMoved        = "remote-ghost-moved"
	NameRemotePlayerJoined      = "remote-player-joined"
	NameRemoteGhostJoined       = "remote-ghost-joined"
	NameRemotePlayerLeft        = "remote-player-left"
	NameRemotePlayerDied        = "remote-player-died"
	NameLocalPlayerDied         = "local-player-died"
	NameRemoteGhostLeft         = "remote-ghost-left"
	NameCellChanged             = "cell-changed"
	NameGameEnded               = "game-ended"
)

// Message is anything that can be sent as a packet.
type Message interface {
	Packet() *packet.Packet
}

// builder sets fields on a fresh packet. Field names are constants, so a
// set failure is a programming error and panics.
type builder struct {
	p *packet.Packet
}

func build(name string) *builder {
	return &builder{p: packet.New(name)}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func (b *builder) int(field string, v int) *builder {
	must(b.p.SetInt32(field, int32(v)))
	return b
}

func (b *builder) int64(field string, v int64) *builder {
	must(b.p.SetInt64(field, v))
	return b
}

func (b *builder) float(field string, v float64) *builder {
	must(b.p.SetFloat64(field, v))
	return b
}

func (b *builder) str(field, v string) *builder {
	must(b.p.SetString(field, v))
	return b
}

func (b *builder) pos(p world.Position) *builder {
	return b.int("row", p.Row).int("col", p.Col)
}

// reader pulls fields off a packet, keeping the first error.
type reader struct {
	p   *packet.Packet
	err error
}

func read(p *packet.Packet, name string) *reader {
	r := &reader{p: p}
	if p.Name() != name {
		r.err = fmt.Errorf("%w: got %q, want %q", ErrWrongMessage, p.Name(), name)
	}
	return r
}

func (r *reader) int(field string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Int32(field)
	r.err = err
	return int(v)
}

func (r *reader) int64(field string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Int64(field)
	r.err = err
	return v
}

func (r *reader) float(field string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Float64(field)
	r.err = err
	return v
}

// optFloat reads a field that may be absent.
func (r *reader) optFloat(field string) (float64, bool) {
	if r.err != nil || !r.p.Has(field) {
		return 0, false
	}
	return r.float(field), r.err == nil
}

func (r *reader) optInt(field string) (int, bool) {
	if r.err != nil || !r.p.Has(field) {
		return 0, false
	}
	return r.int(field), r.err == nil
}

func (r *reader) str(field string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.p.String(field)
	r.err = err
	return v
}

func (r *reader) strs(base string) []string {
	if r.err != nil {
		return nil
	}
	v, err := r.p.Strings(base)
	r.err = err
	return v
}

func (r *reader) pos() world.Position {
	return world.Position{Row: r.int("row"), Col: r.int("col")}
}

// ServerHandshake tells a new connection its client ID.
type ServerHandshake struct {
	ClientID int
}

// Packet implements Message.
func (m ServerHandshake) Packet() *packet.Packet {
	return build(NameServerHandshake).int("client-id", m.ClientID).p
}

// ParseServerHandshake reads a server-handshake packet.
func ParseServerHandshake(p *packet.Packet) (ServerHandshake, error) {
	r := read(p, NameServerHandshake)
	m := ServerHandshake{ClientID: r.int("client-id")}
	return m, r.err
}

// ClientHandshake carries the participant's chosen display name.
type ClientHandshake struct {
	Username string
}

// Packet implements Message.
func (m ClientHandshake) Packet() *packet.Packet {
	return build(NameClientHandshake).str("username", m.Username).p
}

// ParseClientHandshake reads a client-handshake packet.
func ParseClientHandshake(p *packet.Packet) (ClientHandshake, error) {
	r := read(p, NameClientHandshake)
	m := ClientHandshake{Username: r.str("username")}
	return m, r.err
}

// LobbyPlayerEnter announces a lobby member.
type LobbyPlayerEnter struct {
	PlayerID   int
	PlayerName string
}

// Packet implements Message.
func (m LobbyPlayerEnter) Packet() *packet.Packet {
	return build(NameLobbyPlayerEnter).int("player-id", m.PlayerID).str("player-name", m.PlayerName).p
}

// ParseLobbyPlayerEnter reads a lobby-player-enter packet.
func ParseLobbyPlayerEnter(p *packet.Packet) (LobbyPlayerEnter, error) {
	r := read(p, NameLobbyPlayerEnter)
	m := LobbyPlayerEnter{PlayerID: r.int("player-id"), PlayerName: r.str("player-name")}
	return m, r.err
}

// LobbyPlayerLeft announces a departed lobby member.
type LobbyPlayerLeft struct {
	PlayerID int
}

// Packet implements Message.
func (m LobbyPlayerLeft) Packet() *packet.Packet {
	return build(NameLobbyPlayerLeft).int("player-id", m.PlayerID).p
}

// ParseLobbyPlayerLeft reads a lobby-player-left packet.
func ParseLobbyPlayerLeft(p *packet.Packet) (LobbyPlayerLeft, error) {
	r := read(p, NameLobbyPlayerLeft)
	m := LobbyPlayerLeft{PlayerID: r.int("player-id")}
	return m, r.err
}

// LobbyRuleDisplayChanged replaces the lobby's rule strings.
type LobbyRuleDisplayChanged struct {
	Rules []string
}

// Packet implements Message.
func (m LobbyRuleDisplayChanged) Packet() *packet.Packet {
	b := build(NameLobbyRuleDisplayChanged)
	must(b.p.SetStrings("rule-strings", m.Rules))
	return b.p
}

// ParseLobbyRuleDisplayChanged reads a lobby-rule-display-changed packet.
func ParseLobbyRuleDisplayChanged(p *packet.Packet) (LobbyRuleDisplayChanged, error) {
	r := read(p, NameLobbyRuleDisplayChanged)
	m := LobbyRuleDisplayChanged{Rules: r.strs("rule-strings")}
	return m, r.err
}

// GameStarting carries the settings of the match about to begin.
type GameStarting struct {
	Settings lobby.Settings
}

// Packet implements Message.
func (m GameStarting) Packet() *packet.Packet {
	s := m.Settings
	return build(NameGameStarting).
		str("map", s.Map).
		int("ghost-count", s.GhostCount).
		int("bot-count", s.BotCount).
		int64("tick-ms", s.TickInterval.Milliseconds()).p
}

// ParseGameStarting reads a game-starting packet.
//
// Postcondition: The returned settings are valid, or err is non-nil.
func ParseGameStarting(p *packet.Packet) (GameStarting, error) {
	r := read(p, NameGameStarting)
	s := lobby.Settings{
		Map:          r.str("map"),
		GhostCount:   r.int("ghost-count"),
		BotCount:     r.int("bot-count"),
		TickInterval: time.Duration(r.int64("tick-ms")) * time.Millisecond,
	}
	if r.err != nil {
		return GameStarting{}, r.err
	}
	if err := s.Validate(); err != nil {
		return GameStarting{}, err
	}
	return GameStarting{Settings: s}, nil
}

// ForceMove overwrites the receiver's own position.
type ForceMove struct {
	Pos   world.Position
	Angle float64
}

// Packet implements Message.
func (m ForceMove) Packet() *packet.Packet {
	return build(NameForceMove).pos(m.Pos).float("angle", m.Angle).p
}

// ParseForceMove reads a force-move packet.
func ParseForceMove(p *packet.Packet) (ForceMove, error) {
	r := read(p, NameForceMove)
	m := ForceMove{Pos: r.pos(), Angle: r.float("angle")}
	return m, r.err
}

// PlayerMoved is a participant's movement intent.
type PlayerMoved struct {
	Pos      world.Position
	Angle    float64
	HasAngle bool
}

// Packet implements Message.
func (m PlayerMoved) Packet() *packet.Packet {
	b := build(NamePlayerMoved).pos(m.Pos)
	if m.HasAngle {
		b.float("angle", m.Angle)
	}
	return b.p
}

// ParsePlayerMoved reads a player-moved packet.
func ParsePlayerMoved(p *packet.Packet) (PlayerMoved, error) {
	r := read(p, NamePlayerMoved)
	m := PlayerMoved{Pos: r.pos()}
	m.Angle, m.HasAngle = r.optFloat("angle")
	return m, r.err
}

// RemotePlayerMoved relays a player entity's move.
type RemotePlayerMoved struct {
	PlayerID int
	Pos      world.Position
	Angle    float64
	HasAngle bool
}

// Packet implements Message.
func (m RemotePlayerMoved) Packet() *packet.Packet {
	b := build(NameRemotePlayerMoved).pos(m.Pos).int("player-id", m.PlayerID)
	if m.HasAngle {
		b.float("angle", m.Angle)
	}
	return b.p
}

// ParseRemotePlayerMoved reads a remote-player-moved packet.
func ParseRemotePlayerMoved(p *packet.Packet) (RemotePlayerMoved, error) {
	r := read(p, NameRemotePlayerMoved)
	m := RemotePlayerMoved{Pos: r.pos(), PlayerID: r.int("player-id")}
	m.Angle, m.HasAngle = r.optFloat("angle")
	return m, r.err
}

// RemoteGhostMoved relays a ghost's move.
type RemoteGhostMoved struct {
	GhostID int
	Pos     world.Position
}

// Packet implements Message.
func (m RemoteGhostMoved) Packet() *packet.Packet {
	return build(NameRemoteGhostMoved).pos(m.Pos).int("ghost-id", m.GhostID).p
}

// ParseRemoteGhostMoved reads a remote-ghost-moved packet.
func ParseRemoteGhostMoved(p *packet.Packet) (RemoteGhostMoved, error) {
	r := read(p, NameRemoteGhostMoved)
	m := RemoteGhostMoved{Pos: r.pos(), GhostID: r.int("ghost-id")}
	return m, r.err
}

// RemotePlayerJoined introduces a player entity.
type RemotePlayerJoined struct {
	PlayerID int
	Name     string
	Pos      world.Position
}

// Packet implements Message.
func (m RemotePlayerJoined) Packet() *packet.Packet {
	return build(NameRemotePlayerJoined).int("player-id", m.PlayerID).str("name", m.Name).pos(m.Pos).p
}

// ParseRemotePlayerJoined reads a remote-player-joined packet.
func ParseRemotePlayerJoined(p *packet.Packet) (RemotePlayerJoined, error) {
	r := read(p, NameRemotePlayerJoined)
	m := RemotePlayerJoined{PlayerID: r.int("player-id"), Name: r.str("name"), Pos: r.pos()}
	return m, r.err
}

// RemoteGhostJoined introduces a ghost.
type RemoteGhostJoined struct {
	GhostID int
	Pos     world.Position
}

// Packet implements Message.
func (m RemoteGhostJoined) Packet() *packet.Packet {
	return build(NameRemoteGhostJoined).int("ghost-id", m.GhostID).pos(m.Pos).p
}

// ParseRemoteGhostJoined reads a remote-ghost-joined packet.
func ParseRemoteGhostJoined(p *packet.Packet) (RemoteGhostJoined, error) {
	r := read(p, NameRemoteGhostJoined)
	m := RemoteGhostJoined{GhostID: r.int("ghost-id"), Pos: r.pos()}
	return m, r.err
}

// RemotePlayerLeft removes a player entity whose owner left the lobby.
type RemotePlayerLeft struct {
	PlayerID int
}

// Packet implements Message.
func (m RemotePlayerLeft) Packet() *packet.Packet {
	return build(NameRemotePlayerLeft).int("player-id", m.PlayerID).p
}

// ParseRemotePlayerLeft reads a remote-player-left packet.
func ParseRemotePlayerLeft(p *packet.Packet) (RemotePlayerLeft, error) {
	r := read(p, NameRemotePlayerLeft)
	m := RemotePlayerLeft{PlayerID: r.int("player-id")}
	return m, r.err
}

// RemotePlayerDied removes a player entity that was caught.
type RemotePlayerDied struct {
	PlayerID int
}

// Packet implements Message.
func (m RemotePlayerDied) Packet() *packet.Packet {
	return build(NameRemotePlayerDied).int("player-id", m.PlayerID).p
}

// ParseRemotePlayerDied reads a remote-player-died packet.
func ParseRemotePlayerDied(p *packet.Packet) (RemotePlayerDied, error) {
	r := read(p, NameRemotePlayerDied)
	m := RemotePlayerDied{PlayerID: r.int("player-id")}
	return m, r.err
}

// LocalPlayerDied tells a participant its own player was caught.
type LocalPlayerDied struct{}

// Packet implements Message.
func (LocalPlayerDied) Packet() *packet.Packet {
	return packet.New(NameLocalPlayerDied)
}

// ParseLocalPlayerDied reads a local-player-died packet.
func ParseLocalPlayerDied(p *packet.Packet) (LocalPlayerDied, error) {
	return LocalPlayerDied{}, read(p, NameLocalPlayerDied).err
}

// RemoteGhostLeft removes a ghost.
type RemoteGhostLeft struct {
	GhostID int
}

// Packet implements Message.
func (m RemoteGhostLeft) Packet() *packet.Packet {
	return build(NameRemoteGhostLeft).int("ghost-id", m.GhostID).p
}

// ParseRemoteGhostLeft reads a remote-ghost-left packet.
func ParseRemoteGhostLeft(p *packet.Packet) (RemoteGhostLeft, error) {
	r := read(p, NameRemoteGhostLeft)
	m := RemoteGhostLeft{GhostID: r.int("ghost-id")}
	return m, r.err
}

// CellChanged replicates a cell state change.
type CellChanged struct {
	Pos   world.Position
	State world.CellState
}

// Packet implements Message.
func (m CellChanged) Packet() *packet.Packet {
	return build(NameCellChanged).pos(m.Pos).str("new-state", string(m.State)).p
}

// ParseCellChanged reads a cell-changed packet.
func ParseCellChanged(p *packet.Packet) (CellChanged, error) {
	r := read(p, NameCellChanged)
	pos := r.pos()
	raw := r.str("new-state")
	if r.err != nil {
		return CellChanged{}, r.err
	}
	state, err := world.ParseCellState(raw)
	if err != nil {
		return CellChanged{}, err
	}
	return CellChanged{Pos: pos, State: state}, nil
}

// GameEnded announces the result of a match.
type GameEnded struct {
	Result engine.Result
}

// Packet implements Message.
func (m GameEnded) Packet() *packet.Packet {
	b := build(NameGameEnded).str("outcome", m.Result.Outcome.String())
	if m.Result.HasWinner {
		b.int("winner-id", m.Result.WinnerID)
	}
	return b.p
}

// ParseGameEnded reads a game-ended packet.
func ParseGameEnded(p *packet.Packet) (GameEnded, error) {
	r := read(p, NameGameEnded)
	raw := r.str("outcome")
	winner, hasWinner := r.optInt("winner-id")
	if r.err != nil {
		return GameEnded{}, r.err
	}
	outcome, err := engine.ParseOutcome(raw)
	if err != nil {
		return GameEnded{}, err
	}
	return GameEnded{Result: engine.Result{Outcome: outcome, WinnerID: winner, HasWinner: hasWinner}}, nil
}
