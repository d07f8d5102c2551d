package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhejian/pastebin/internal/model"
)

const pasteColumns = `id, content, created_at, ttl_seconds, expires_at, max_views, view_count`

// PasteRepository handles PostgreSQL operations for pastes
type PasteRepository struct {
	db *pgxpool.Pool
}

// NewPasteRepository creates a new paste repository
func NewPasteRepository(db *pgxpool.Pool) *PasteRepository {
	return &PasteRepository{db: db}
}

// Create inserts a new paste record into the database
func (r *PasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	ctx, span := startDBSpan(ctx, "db.insert", "postgresql", "INSERT", "pastes", paste.ID)
	defer span.End()

	// A duplicate id surfaces as a unique-constraint violation which we
	// map to ErrIDConflict so the service can retry with a fresh id.
	query := `
		INSERT INTO pastes (id, content, created_at, ttl_seconds, expires_at, max_views, view_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		paste.ID,
		paste.Content,
		paste.CreatedAt,
		paste.TTLSeconds,
		paste.ExpiresAt,
		paste.MaxViews,
		paste.ViewCount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIDConflict
		}
		span.RecordError(err)
		return err
	}

	return nil
}

// GetByID retrieves a paste by its id
func (r *PasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.select", "postgresql", "SELECT", "pastes", id)
	defer span.End()

	query := `SELECT ` + pasteColumns + ` FROM pastes WHERE id = $1`
	paste, err := scanPaste(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return paste, nil
}

// IncrementViewCount atomically records one view. The limit check lives in
// the WHERE clause so concurrent readers are serialised by the row lock and
// re-evaluated against the committed count.
func (r *PasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.update", "postgresql", "UPDATE", "pastes", id)
	defer span.End()

	query := `
		UPDATE pastes
		SET view_count = view_count + 1
		WHERE id = $1 AND ($2::bigint IS NULL OR view_count < $2::bigint)
		RETURNING ` + pasteColumns
	paste, err := scanPaste(r.db.QueryRow(ctx, query, id, maxViews))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, missingOrExhausted(maxViews)
		}
		span.RecordError(err)
		return nil, err
	}
	return paste, nil
}

// Ping checks database connectivity
func (r *PasteRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the connection pool
func (r *PasteRepository) Close() {
	r.db.Close()
}

func scanPaste(row pgx.Row) (*model.Paste, error) {
	var p model.Paste
	err := row.Scan(
		&p.ID,
		&p.Content,
		&p.CreatedAt,
		&p.TTLSeconds,
		&p.ExpiresAt,
		&p.MaxViews,
		&p.ViewCount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
