package results

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the statements of the results schema.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS race_results (
    event_id    UUID PRIMARY KEY,
    session_id  UUID NOT NULL,
    race        INTEGER NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    details     JSONB,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS racer_results (
    event_id         UUID NOT NULL REFERENCES race_results (event_id) ON DELETE CASCADE,
    racer_id         INTEGER NOT NULL,
    dial_in_ms       BIGINT NOT NULL,
    reaction_time_ms BIGINT NOT NULL,
    foul             BOOLEAN NOT NULL,
    PRIMARY KEY (event_id, racer_id)
);

CREATE INDEX IF NOT EXISTS race_results_finished_at_idx ON race_results (finished_at DESC);
`

func (q *Queries) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, schema)
	return err
}

type InsertRaceParams struct {
	EventID    uuid.UUID
	SessionID  uuid.UUID
	Race       int32
	FinishedAt time.Time
	Details    pqtype.NullRawMessage
}

const insertRace = `
INSERT INTO race_results (event_id, session_id, race, finished_at, details)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id) DO NOTHING
`

// InsertRace reports whether a row was written; false means the event was recorded before.
func (q *Queries) InsertRace(ctx context.Context, arg InsertRaceParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertRace,
		arg.EventID, arg.SessionID, arg.Race, arg.FinishedAt, arg.Details)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type InsertRacerResultParams struct {
	EventID        uuid.UUID
	RacerID        int32
	DialInMs       int64
	ReactionTimeMs int64
	Foul           bool
}

const insertRacerResult = `
INSERT INTO racer_results (event_id, racer_id, dial_in_ms, reaction_time_ms, foul)
VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) InsertRacerResult(ctx context.Context, arg InsertRacerResultParams) error {
	_, err := q.db.ExecContext(ctx, insertRacerResult,
		arg.EventID, arg.RacerID, arg.DialInMs, arg.ReactionTimeMs, arg.Foul)
	return err
}

type RaceRow struct {
	EventID    uuid.UUID
	SessionID  uuid.UUID
	Race       int32
	FinishedAt time.Time
	Details    pqtype.NullRawMessage
}

const listRecentRaces = `
SELECT event_id, session_id, race, finished_at, details
FROM race_results
ORDER BY finished_at DESC
LIMIT $1
`

func (q *Queries) ListRecentRaces(ctx context.Context, limit int32) ([]RaceRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecentRaces, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RaceRow
	for rows.Next() {
		var i RaceRow
		if err := rows.Scan(&i.EventID, &i.SessionID, &i.Race, &i.FinishedAt, &i.Details); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

type RacerResultRow struct {
	RacerID        int32
	DialInMs       int64
	ReactionTimeMs int64
	Foul           bool
}

const listRacerResults = `
SELECT racer_id, dial_in_ms, reaction_time_ms, foul
FROM racer_results
WHERE event_id = $1
ORDER BY racer_id
`

func (q *Queries) ListRacerResults(ctx context.Context, eventID uuid.UUID) ([]RacerResultRow, error) {
	rows, err := q.db.QueryContext(ctx, listRacerResults, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RacerResultRow
	for rows.Next() {
		var i RacerResultRow
		if err := rows.Scan(&i.RacerID, &i.DialInMs, &i.ReactionTimeMs, &i.Foul); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
