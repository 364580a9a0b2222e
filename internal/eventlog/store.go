// Package eventlog is the append-only event store. Appends are guarded by
// optimistic concurrency on the aggregate's version.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/pagolivre/psp/internal/domain"
)

// ErrVersionConflict is returned when the stored stream has moved past the
// writer's expected version. The caller should reload and retry the command.
var ErrVersionConflict = errors.New("event log: version conflict")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes events to the aggregate's stream inside one transaction. The
// current highest stored version must equal expectedVersion; otherwise
// nothing is written and ErrVersionConflict is returned.
func (s *Store) Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.AppendTx(ctx, tx, aggregateID, events, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendTx writes events within a caller-managed transaction, so the caller
// can commit the stream together with its projection. The same version guard
// applies; the caller still owns commit and rollback.
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, aggregateID string, events []domain.Event, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}

	var current sql.NullInt64
	err := tx.QueryRowContext(ctx,
		"SELECT MAX(version) FROM events WHERE aggregate_id = ?", aggregateID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	if current.Int64 != expectedVersion {
		return fmt.Errorf("%w: aggregate %s at version %d, expected %d",
			ErrVersionConflict, aggregateID, current.Int64, expectedVersion)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (aggregate_id, version, type, payload, occurred_at)
		 VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	version := expectedVersion
	for _, evt := range events {
		version++
		_, err := stmt.ExecContext(ctx, aggregateID, version, evt.Type,
			string(evt.Payload), evt.OccurredAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			if isVersionClash(err) {
				return fmt.Errorf("%w: aggregate %s version %d already written",
					ErrVersionConflict, aggregateID, version)
			}
			return fmt.Errorf("insert event v%d: %w", version, err)
		}
	}
	return nil
}

// isVersionClash reports whether the insert hit the (aggregate_id, version)
// primary key: a writer that passed the version check before a concurrent
// append committed. SQLITE_CONSTRAINT is 19; extended codes keep it in the
// low byte.
func isVersionClash(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code()&0xff == 19
}

// GetEvents returns the aggregate's full stream ordered by version.
func (s *Store) GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, type, payload, occurred_at
		 FROM events WHERE aggregate_id = ? ORDER BY version`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var evt domain.Event
		var payload, occurredAt string
		if err := rows.Scan(&evt.AggregateID, &evt.Version, &evt.Type, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		evt.Payload = []byte(payload)
		evt.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at for v%d: %w", evt.Version, err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
