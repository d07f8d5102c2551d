package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"
	"github.com/zhejian/pastebin/internal/model"
)

// BreakerPasteRepository guards a store with a circuit breaker so a failing
// backend is reported quickly instead of tying up every request until its
// timeout. It never retries.
type BreakerPasteRepository struct {
	next PasteRepositoryInterface
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPasteRepository wraps next. Domain outcomes such as not found
// or a failed view-limit condition do not count against the breaker.
func NewBreakerPasteRepository(next PasteRepositoryInterface, st gobreaker.Settings, logger *slog.Logger) *BreakerPasteRepository {
	if st.Name == "" {
		st.Name = "paste-store"
	}
	if st.IsSuccessful == nil {
		st.IsSuccessful = func(err error) bool {
			return err == nil || isDomainError(err) || errors.Is(err, context.Canceled)
		}
	}
	if st.OnStateChange == nil && logger != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}
	}
	return &BreakerPasteRepository{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (r *BreakerPasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.next.Create(ctx, paste)
	})
	return err
}

func (r *BreakerPasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	return r.executePaste(func() (*model.Paste, error) {
		return r.next.GetByID(ctx, id)
	})
}

func (r *BreakerPasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	return r.executePaste(func() (*model.Paste, error) {
		return r.next.IncrementViewCount(ctx, id, maxViews)
	})
}

// Ping bypasses the breaker so health checks see the real backend state
func (r *BreakerPasteRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *BreakerPasteRepository) Close() {
	r.next.Close()
}

// State exposes the breaker state for diagnostics
func (r *BreakerPasteRepository) State() gobreaker.State {
	return r.cb.State()
}

func (r *BreakerPasteRepository) executePaste(fn func() (*model.Paste, error)) (*model.Paste, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Paste), nil
}
