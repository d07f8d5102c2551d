package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/model"
	"github.com/zhejian/pastebin/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxContentLength is the largest accepted paste, in characters
const MaxContentLength = 1_048_576

// publishTimeout bounds how long a request waits to hand off an event
const publishTimeout = 200 * time.Millisecond

// expiresAtLayout is RFC 3339 in UTC with millisecond precision
const expiresAtLayout = "2006-01-02T15:04:05.000Z"

// PasteService implements the paste lifecycle: creation rules and the
// read protocol that classifies missing, expired and exhausted pastes.
// It holds no locks; every mutation goes through the store's conditional
// increment.
type PasteService struct {
	repo      repository.PasteRepositoryInterface
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *serviceMetrics
	clock     func() time.Time
	newID     IDGenerator
	baseURL   string
	idLength  int
	idRetries int
}

// PasteServiceInterface defines the contract for paste operations
type PasteServiceInterface interface {
	CreatePaste(ctx context.Context, req *model.CreatePasteRequest) (*model.CreatePasteResponse, error)
	FetchPaste(ctx context.Context, id string, nowMs int64) (*model.FetchPasteResponse, error)
}

// Option customises a PasteService
type Option func(*PasteService)

// WithClock sets the clock used to stamp created_at
func WithClock(clock func() time.Time) Option {
	return func(s *PasteService) { s.clock = clock }
}

// WithIDGenerator replaces the nanoid generator
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *PasteService) { s.newID = gen }
}

// WithPublisher sets where lifecycle events are sent
func WithPublisher(p events.Publisher) Option {
	return func(s *PasteService) { s.publisher = p }
}

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *PasteService) { s.logger = logger }
}

// NewPasteService creates a new paste service
func NewPasteService(repo repository.PasteRepositoryInterface, baseURL string, idLength, idRetries int, opts ...Option) *PasteService {
	s := &PasteService{
		repo:      repo,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		metrics:   newServiceMetrics(),
		clock:     time.Now,
		newID:     NanoID,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		idLength:  idLength,
		idRetries: idRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idRetries < 1 {
		s.idRetries = 1
	}
	return s
}

// CreatePaste validates the request and persists a new paste under a
// freshly generated id. ExpiresAt is derived once here and never changes.
func (s *PasteService) CreatePaste(ctx context.Context, req *model.CreatePasteRequest) (*model.CreatePasteResponse, error) {
	ctx, span := tracer.Start(ctx, "PasteService.CreatePaste")
	defer span.End()

	if err := validateCreate(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	createdAt := s.clock().UnixMilli()
	var expiresAt *int64
	if req.TTLSeconds != nil {
		if *req.TTLSeconds > (math.MaxInt64-createdAt)/1000 {
			return nil, &ValidationError{Field: "ttl_seconds", Reason: "is too large"}
		}
		e := createdAt + *req.TTLSeconds*1000
		expiresAt = &e
	}

	paste := &model.Paste{
		Content:    req.Content,
		CreatedAt:  createdAt,
		TTLSeconds: req.TTLSeconds,
		ExpiresAt:  expiresAt,
		MaxViews:   req.MaxViews,
	}

	if err := s.insertWithFreshID(ctx, paste); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("paste.id", paste.ID))
	s.metrics.recordCreate(ctx)
	s.publish(ctx, events.NewEvent(events.TypePasteCreated, paste.ID, createdAt, 0))

	return &model.CreatePasteResponse{
		ID:        paste.ID,
		URL:       s.baseURL + "/p/" + paste.ID,
		ExpiresAt: formatExpiresAt(paste.ExpiresAt),
	}, nil
}

// insertWithFreshID retries on id collisions only; any other store error
// ends the attempt.
func (s *PasteService) insertWithFreshID(ctx context.Context, paste *model.Paste) error {
	for attempt := 0; attempt < s.idRetries; attempt++ {
		id, err := s.newID(s.idLength)
		if err != nil {
			return internal("generate id", err)
		}
		paste.ID = id

		err = s.repo.Create(ctx, paste)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrIDConflict) {
			return internal("create paste", err)
		}
		s.logger.DebugContext(ctx, "paste id collision",
			slog.String("id", id),
			slog.Int("attempt", attempt+1))
	}
	return internal("create paste", ErrIDGeneration)
}

// FetchPaste serves one view of a paste as of nowMs. The caller supplies
// the time so the expiry decision is deterministic.
func (s *PasteService) FetchPaste(ctx context.Context, id string, nowMs int64) (*model.FetchPasteResponse, error) {
	ctx, span := tracer.Start(ctx, "PasteService.FetchPaste",
		trace.WithAttributes(attribute.String("paste.id", id)))
	defer span.End()

	resp, err := s.fetch(ctx, id, nowMs)

	var nf *NotFoundError
	switch {
	case err == nil:
		s.metrics.recordFetch(ctx, outcomeSuccess)
	case errors.As(err, &nf):
		span.SetAttributes(attribute.String("paste.not_found_reason", string(nf.Reason)))
		s.logger.DebugContext(ctx, "paste not served",
			slog.String("id", id),
			slog.String("reason", string(nf.Reason)))
		s.metrics.recordFetch(ctx, string(nf.Reason))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.recordFetch(ctx, outcomeError)
	}
	return resp, err
}

func (s *PasteService) fetch(ctx context.Context, id string, nowMs int64) (*model.FetchPasteResponse, error) {
	// 1. Look up the paste
	paste, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound(ReasonMissing)
		}
		return nil, internal("get paste", err)
	}

	// 2. Expiry wins over view exhaustion
	if paste.IsExpired(nowMs) {
		return nil, notFound(ReasonExpired)
	}

	// 3. Pre-check saves a write when the limit is already reached
	if paste.IsExhausted() {
		return nil, notFound(ReasonExhausted)
	}

	// 4. Consume a view; the store enforces the limit atomically
	updated, err := s.repo.IncrementViewCount(ctx, id, paste.MaxViews)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConditionFailed):
			return nil, notFound(ReasonExhausted)
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFound(ReasonMissing)
		default:
			return nil, internal("increment view count", err)
		}
	}

	s.publish(ctx, events.NewEvent(events.TypePasteViewed, id, nowMs, updated.ViewCount))

	return &model.FetchPasteResponse{
		Content:        updated.Content,
		RemainingViews: updated.RemainingViews(),
		ExpiresAt:      formatExpiresAt(updated.ExpiresAt),
	}, nil
}

// publish never affects the outcome of the operation that triggered it.
// The hand-off survives client cancellation but not a stalled publisher.
func (s *PasteService) publish(ctx context.Context, event events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish paste event",
			slog.String("type", event.Type),
			slog.String("paste_id", event.PasteID),
			slog.String("error", err.Error()))
	}
}

func validateCreate(req *model.CreatePasteRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return &ValidationError{Field: "content", Reason: "must be a non-empty string"}
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return &ValidationError{Field: "content", Reason: "exceeds the maximum length of 1048576 characters"}
	}
	if req.TTLSeconds != nil && *req.TTLSeconds < 1 {
		return &ValidationError{Field: "ttl_seconds", Reason: "must be an integer >= 1"}
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		return &ValidationError{Field: "max_views", Reason: "must be an integer >= 1"}
	}
	return nil
}

func formatExpiresAt(ms *int64) *string {
	if ms == nil {
		return nil
	}
	s := time.UnixMilli(*ms).UTC().Format(expiresAtLayout)
	return &s
}

// Ensure PasteService implements PasteServiceInterface at compile time
var _ PasteServiceInterface = (*PasteService)(nil)
