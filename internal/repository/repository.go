package repository

import (
	"context"
	"errors"

	"github.com/zhejian/pastebin/internal/model"
)

var (
	ErrNotFound        = errors.New("paste not found")
	ErrIDConflict      = errors.New("paste id already exists")
	ErrConditionFailed = errors.New("view count precondition failed")
	ErrContentMissing  = errors.New("paste content object missing")
	ErrContentTooLarge = errors.New("paste content exceeds inline limit and no content store is configured")
)

// PasteRepositoryInterface is the paste store contract the lifecycle
// engine depends on. Implementations must make IncrementViewCount a
// single indivisible operation.
type PasteRepositoryInterface interface {
	// Create inserts a new paste, returning ErrIDConflict if the id is taken.
	Create(ctx context.Context, paste *model.Paste) error

	// GetByID returns the paste without side effects, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Paste, error)

	// IncrementViewCount adds one to view_count and returns the updated
	// record. When maxViews is non-nil the increment only happens while
	// view_count < *maxViews; otherwise ErrConditionFailed is returned and
	// nothing changes.
	IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the backing store's resources.
	Close()
}

// isDomainError reports whether err is an expected store outcome rather
// than an infrastructure failure.
func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIDConflict) ||
		errors.Is(err, ErrConditionFailed)
}

// missingOrExhausted maps an empty conditional update. Without a limit the
// only way to miss is an absent row.
func missingOrExhausted(maxViews *int64) error {
	if maxViews == nil {
		return ErrNotFound
	}
	return ErrConditionFailed
}
