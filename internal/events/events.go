package events

import (
	"context"

	"github.com/google/uuid"
)

const (
	TypePasteCreated = "paste.created"
	TypePasteViewed  = "paste.viewed"
)

// Event is a paste lifecycle notification. OccurredAt is Unix milliseconds
// from the same clock the engine used for the operation.
type Event struct {
	ID         uuid.UUID `json:"event_id"`
	Type       string    `json:"type"`
	PasteID    string    `json:"paste_id"`
	OccurredAt int64     `json:"occurred_at"`
	ViewCount  int64     `json:"view_count"`
}

// NewEvent builds an event with a fresh id
func NewEvent(eventType, pasteID string, occurredAt, viewCount int64) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		PasteID:    pasteID,
		OccurredAt: occurredAt,
		ViewCount:  viewCount,
	}
}

// Publisher delivers lifecycle events to downstream consumers. Publish sits
// on the request path and must return without waiting on a slow broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

var _ Publisher = NopPublisher{}
