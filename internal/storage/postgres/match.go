package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
	"github.com/cory-johannsen/gridchase/internal/game/match"
)

// ErrMatchNotFound is returned when a match lookup or update names an
// unknown match.
var ErrMatchNotFound = errors.New("match not found")

// MatchRecord is a stored match with its roster.
type MatchRecord struct {
	ID        uuid.UUID
	Settings  lobby.Settings
	StartedAt time.Time
	// EndedAt and Result are zero until the match ends.
	EndedAt time.Time
	Result  engine.Result
	Players []match.Score
}

// Ended reports whether the match has finished.
func (m MatchRecord) Ended() bool {
	return !m.EndedAt.IsZero()
}

// MatchRepository persists match history. It implements match.Recorder.
type MatchRepository struct {
	db *pgxpool.Pool
}

// NewMatchRepository creates a MatchRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

// MatchStarted inserts the match and its human roster.
//
// Postcondition: Either the match and every player row exist, or nothing
// was written.
func (r *MatchRepository) MatchStarted(ctx context.Context, s match.Start) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO matches (id, map, ghost_count, bot_count, tick_ms, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, s.Settings.Map, s.Settings.GhostCount, s.Settings.BotCount,
			s.Settings.TickInterval.Milliseconds(), s.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting match %s: %w", s.ID, err)
		}
		for _, p := range s.Players {
			if _, err := tx.Exec(ctx,
				`INSERT INTO match_players (match_id, entity_id, name) VALUES ($1, $2, $3)`,
				s.ID, p.ID, p.Name,
			); err != nil {
				return fmt.Errorf("inserting player %d of match %s: %w", p.ID, s.ID, err)
			}
		}
		return nil
	})
}

// MatchEnded stores the outcome and final scores. Bots, which are not part
// of the starting roster, are inserted here.
//
// Postcondition: Returns ErrMatchNotFound if the match was never started.
func (r *MatchRepository) MatchEnded(ctx context.Context, e match.End) error {
	var winner *int
	if e.Result.HasWinner {
		w := e.Result.WinnerID
		winner = &w
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE matches SET ended_at = $2, outcome = $3, winner_id = $4 WHERE id = $1`,
			e.ID, e.EndedAt, e.Result.Outcome.String(), winner,
		)
		if err != nil {
			return fmt.Errorf("updating match %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, e.ID)
		}
		for _, sc := range e.Scores {
			if _, err := tx.Exec(ctx,
				`INSERT INTO match_players (match_id, entity_id, name, bot, score, caught)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (match_id, entity_id)
				 DO UPDATE SET bot = EXCLUDED.bot, score = EXCLUDED.score, caught = EXCLUDED.caught`,
				e.ID, sc.EntityID, sc.Name, sc.Bot, sc.Score, sc.Caught,
			); err != nil {
				return fmt.Errorf("storing score of %d in match %s: %w", sc.EntityID, e.ID, err)
			}
		}
		return nil
	})
}

// Get loads one match and its players ordered by entity ID.
//
// Postcondition: Returns ErrMatchNotFound if no such match exists.
func (r *MatchRepository) Get(ctx context.Context, id uuid.UUID) (MatchRecord, error) {
	var (
		rec     MatchRecord
		tickMs  int64
		endedAt *time.Time
		outcome *string
		winner  *int
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, map, ghost_count, bot_count, tick_ms, started_at, ended_at, outcome, winner_id
		 FROM matches WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Settings.Map, &rec.Settings.GhostCount, &rec.Settings.BotCount,
		&tickMs, &rec.StartedAt, &endedAt, &outcome, &winner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchRecord{}, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
		}
		return MatchRecord{}, fmt.Errorf("querying match %s: %w", id, err)
	}
	rec.Settings.TickInterval = time.Duration(tickMs) * time.Millisecond
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	if outcome != nil {
		o, err := engine.ParseOutcome(*outcome)
		if err != nil {
			return MatchRecord{}, fmt.Errorf("match %s: %w", id, err)
		}
		rec.Result.Outcome = o
	}
	if winner != nil {
		rec.Result.WinnerID, rec.Result.HasWinner = *winner, true
	}

	rows, err := r.db.Query(ctx,
		`SELECT entity_id, name, bot, score, caught
		 FROM match_players WHERE match_id = $1 ORDER BY entity_id`, id,
	)
	if err != nil {
		return MatchRecord{}, fmt.Errorf("querying players of match %s: %w", id, err)
	}
	rec.Players, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (match.Score, error) {
		var sc match.Score
		err := row.Scan(&sc.EntityID, &sc.Name, &sc.Bot, &sc.Score, &sc.Caught)
		return sc, err
	})
	if err != nil {
		return MatchRecord{}, fmt.Errorf("reading players of match %s: %w", id, err)
	}
	return rec, nil
}
