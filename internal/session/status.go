package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gridchase/internal/game/world"
	"github.com/cory-johannsen/gridchase/internal/network"
)

// PlayerStatus is one lobby member.
type PlayerStatus struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// EntityStatus is one entity of the running match.
type EntityStatus struct {
	ID    int    `json:"id"`
	Kind  string `json:"kind"`
	Name  string `json:"name,omitempty"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Score int    `json:"score"`
}

// ServerStatus is a point-in-time view of a Server.
type ServerStatus struct {
	Phase       string         `json:"phase"`
	MatchID     string         `json:"match_id,omitempty"`
	Rules       []string       `json:"rules"`
	Players     []PlayerStatus `json:"players"`
	Connections []int          `json:"connections"`
	Entities    []EntityStatus `json:"entities,omitempty"`
}

// Entity returns the entity with the given ID, if the match has it.
func (st ServerStatus) Entity(id int) (EntityStatus, bool) {
	for _, e := range st.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityStatus{}, false
}

// Status captures the server's state on the session loop.
func (s *Server) Status(ctx context.Context) (ServerStatus, error) {
	var st ServerStatus
	err := s.c.call(ctx, func() error {
		st = s.status()
		return nil
	})
	return st, err
}

// StatusFunc adapts Status for the HTTP status endpoint.
func (s *Server) StatusFunc(timeout time.Duration) network.StatusFunc {
	return func() any {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := s.Status(ctx)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return st
	}
}

func (s *Server) status() ServerStatus {
	st := ServerStatus{
		Phase:       s.phase.String(),
		Rules:       s.lobby.Rules(),
		Players:     []PlayerStatus{},
		Connections: s.c.conns.Connected(),
	}
	if s.matchID != uuid.Nil {
		st.MatchID = s.matchID.String()
	}
	for _, p := range s.lobby.Players() {
		ps := PlayerStatus{ID: p.ID, Name: p.Name}
		if rc, ok := s.clients[p.ID]; ok {
			ps.State = rc.state.String()
		}
		st.Players = append(st.Players, ps)
	}
	if s.game != nil {
		for _, e := range s.game.World().Entities() {
			st.Entities = append(st.Entities, entityStatus(e))
		}
	}
	return st
}

func entityStatus(e world.Entity) EntityStatus {
	return EntityStatus{
		ID:    e.ID,
		Kind:  e.Kind.String(),
		Name:  e.Name,
		Row:   e.Pos.Row,
		Col:   e.Pos.Col,
		Score: e.Score,
	}
}
