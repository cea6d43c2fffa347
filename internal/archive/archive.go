// Package archive keeps access events after they leave the device log.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
)

// Record is one archived access event. EstimatedAt is derived from the
// elapsed tick count and the tick period at drain time, so it is only as
// accurate as the tick source.
type Record struct {
	BatchID      uuid.UUID
	Seq          int
	Type         eventlog.EventType
	TagID        authtable.TagID
	ElapsedTicks uint32
	EstimatedAt  time.Time
	ArchivedAt   time.Time
}

// Store persists archived events.
type Store interface {
	Append(ctx context.Context, recs []Record) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)
}

// Batch is the result of one Drain.
type Batch struct {
	ID      uuid.UUID
	Records []Record
}

type Exporter struct {
	events     *eventlog.List
	store      Store
	tickPeriod time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewExporter(events *eventlog.List, s Store, tickPeriod time.Duration, logger zerolog.Logger) *Exporter {
	return &Exporter{
		events:     events,
		store:      s,
		tickPeriod: tickPeriod,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Drain empties the event log into the store as one batch. Events are
// removed from the log before the write, so on error the returned batch is
// the only remaining copy.
func (e *Exporter) Drain(ctx context.Context) (Batch, error) {
	events := e.events.Drain()
	metrics.SetEventsPending(e.events.Size())
	if len(events) == 0 {
		return Batch{}, nil
	}

	now := e.now()
	b := Batch{ID: uuid.New(), Records: make([]Record, 0, len(events))}
	for i, ev := range events {
		b.Records = append(b.Records, Record{
			BatchID:      b.ID,
			Seq:          i,
			Type:         ev.Type,
			TagID:        ev.TagID,
			ElapsedTicks: ev.Time,
			EstimatedAt:  now.Add(-time.Duration(ev.Time) * e.tickPeriod),
			ArchivedAt:   now,
		})
	}

	if err := e.store.Append(ctx, b.Records); err != nil {
		e.logger.Error().Err(err).Str("batch", b.ID.String()).Int("events", len(b.Records)).
			Msg("archive append failed")
		return b, fmt.Errorf("Drain append: %w", err)
	}
	metrics.RecordArchived(len(b.Records))
	e.logger.Info().Str("batch", b.ID.String()).Int("events", len(b.Records)).Msg("events archived")
	return b, nil
}
