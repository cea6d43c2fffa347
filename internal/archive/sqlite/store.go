// Package sqlite is the archive.Store backed by the archived_events table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	dbpkg "github.com/BrandonDHaskell/Portunus/relay/internal/db"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
)

type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// Append writes recs in one transaction. Re-appending a (batch, seq) pair
// that is already stored is a no-op.
func (s *Store) Append(ctx context.Context, recs []archive.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO archived_events(
  batch_id, seq, event_type, tag_id, elapsed_ticks, estimated_at_ms, archived_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(batch_id, seq) DO NOTHING;
`)
		if err != nil {
			return fmt.Errorf("Append prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range recs {
			archivedAt := r.ArchivedAt
			if archivedAt.IsZero() {
				archivedAt = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				r.BatchID.String(), r.Seq, int(r.Type), r.TagID.String(), int64(r.ElapsedTicks),
				r.EstimatedAt.UTC().UnixMilli(), archivedAt.UTC().UnixMilli(),
			); err != nil {
				return fmt.Errorf("Append insert %s/%d: %w", r.BatchID, r.Seq, err)
			}
		}
		return nil
	})
}

func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM archived_events WHERE archived_at_ms < ?;
`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func (s *Store) List(ctx context.Context, limit int) ([]archive.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT batch_id, seq, event_type, tag_id, elapsed_ticks, estimated_at_ms, archived_at_ms
FROM archived_events
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var out []archive.Record
	for rows.Next() {
		var (
			batch, tag              string
			seq, typ                int
			ticks, estMs, archiveMs int64
		)
		if err := rows.Scan(&batch, &seq, &typ, &tag, &ticks, &estMs, &archiveMs); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		r := archive.Record{
			Seq:          seq,
			Type:         eventlog.EventType(typ),
			ElapsedTicks: uint32(ticks),
			EstimatedAt:  time.UnixMilli(estMs).UTC(),
			ArchivedAt:   time.UnixMilli(archiveMs).UTC(),
		}
		if r.BatchID, err = uuid.Parse(batch); err != nil {
			return nil, fmt.Errorf("List batch id %q: %w", batch, err)
		}
		if r.TagID, err = authtable.ParseTagID(tag); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
