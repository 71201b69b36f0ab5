// Package results records finished races from the race event stream in Postgres.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/mcdev12/practicetree/go/internal/dbconfig"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Race is one finished race as recorded.
type Race struct {
	EventID    uuid.UUID
	SessionID  uuid.UUID
	Race       int
	FinishedAt time.Time
	Results    []events.RacerResult
}

// Open connects to the database named by cfg with the configured driver.
func Open(ctx context.Context, cfg dbconfig.Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Store persists races.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the results tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if err := NewQueries(s.db).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate results schema: %w", err)
	}
	return nil
}

// Record writes race and its racer lines in one transaction. It reports false when the
// event was already recorded.
func (s *Store) Record(ctx context.Context, race Race) (bool, error) {
	details, err := json.Marshal(race.Results)
	if err != nil {
		return false, fmt.Errorf("marshal race details: %w", err)
	}

	var recorded bool
	err = sqlutil.Run(ctx, s.db, func(tx *sql.Tx) *Queries { return NewQueries(tx) }, func(q *Queries) error {
		var err error
		recorded, err = q.InsertRace(ctx, InsertRaceParams{
			EventID:    race.EventID,
			SessionID:  race.SessionID,
			Race:       int32(race.Race),
			FinishedAt: race.FinishedAt,
			Details:    pqtype.NullRawMessage{RawMessage: details, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("insert race: %w", err)
		}
		if !recorded {
			return nil
		}

		for _, r := range race.Results {
			err := q.InsertRacerResult(ctx, InsertRacerResultParams{
				EventID:        race.EventID,
				RacerID:        int32(r.RacerID),
				DialInMs:       r.DialIn.Milliseconds(),
				ReactionTimeMs: r.ReactionTime.Milliseconds(),
				Foul:           r.Foul,
			})
			if err != nil {
				return fmt.Errorf("insert racer %d: %w", r.RacerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	log.Debug().
		Str("event_id", race.EventID.String()).
		Int("race", race.Race).
		Bool("recorded", recorded).
		Msg("race stored")
	return recorded, nil
}

// Recent returns up to limit races, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Race, error) {
	q := NewQueries(s.db)
	rows, err := q.ListRecentRaces(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}

	races := make([]Race, 0, len(rows))
	for _, row := range rows {
		lines, err := q.ListRacerResults(ctx, row.EventID)
		if err != nil {
			return nil, fmt.Errorf("list racers of %s: %w", row.EventID, err)
		}
		race := Race{
			EventID:    row.EventID,
			SessionID:  row.SessionID,
			Race:       int(row.Race),
			FinishedAt: row.FinishedAt,
		}
		for _, l := range lines {
			race.Results = append(race.Results, events.RacerResult{
				RacerID:      int(l.RacerID),
				DialIn:       time.Duration(l.DialInMs) * time.Millisecond,
				ReactionTime: time.Duration(l.ReactionTimeMs) * time.Millisecond,
				Foul:         l.Foul,
			})
		}
		races = append(races, race)
	}
	return races, nil
}
