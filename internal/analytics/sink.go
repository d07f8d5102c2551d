package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhejian/pastebin/internal/events"
)

// PasteStats summarises the recorded events for one paste
type PasteStats struct {
	PasteID    string
	Created    bool
	Views      int64
	LastViewed *int64
}

// Sink persists paste lifecycle events to Postgres. Recording is
// idempotent on the event id, so redelivered messages are harmless.
type Sink struct {
	pool *pgxpool.Pool
}

func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

// Record stores a single event; it matches events.Handler
func (s *Sink) Record(ctx context.Context, event events.Event) error {
	query := `
		INSERT INTO paste_events (event_id, paste_id, event_type, occurred_at, view_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		event.ID,
		event.PasteID,
		event.Type,
		event.OccurredAt,
		event.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", event.ID, err)
	}
	return nil
}

// Stats aggregates the recorded events for a paste
func (s *Sink) Stats(ctx context.Context, pasteID string) (*PasteStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_type = $2) > 0,
			COUNT(*) FILTER (WHERE event_type = $3),
			MAX(occurred_at) FILTER (WHERE event_type = $3)
		FROM paste_events
		WHERE paste_id = $1
	`
	stats := &PasteStats{PasteID: pasteID}
	err := s.pool.QueryRow(ctx, query, pasteID, events.TypePasteCreated, events.TypePasteViewed).
		Scan(&stats.Created, &stats.Views, &stats.LastViewed)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
