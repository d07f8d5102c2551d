package model

// Paste represents a stored paste entity.
// Timestamps are Unix milliseconds so expiry decisions stay exact and
// deterministic across backends.
type Paste struct {
	ID         string `json:"id" bson:"_id"`
	Content    string `json:"content" bson:"content"`
	CreatedAt  int64  `json:"created_at" bson:"created_at"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty" bson:"ttl_seconds,omitempty"`
	ExpiresAt  *int64 `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	MaxViews   *int64 `json:"max_views,omitempty" bson:"max_views,omitempty"`
	ViewCount  int64  `json:"view_count" bson:"view_count"`
}

// IsExpired reports whether the paste is past its expiry at nowMs.
// A paste is still servable in the millisecond it expires.
func (p *Paste) IsExpired(nowMs int64) bool {
	return p.ExpiresAt != nil && *p.ExpiresAt < nowMs
}

// IsExhausted reports whether every permitted view has been consumed.
func (p *Paste) IsExhausted() bool {
	return p.MaxViews != nil && p.ViewCount >= *p.MaxViews
}

// RemainingViews returns how many reads are left, or nil when unlimited.
func (p *Paste) RemainingViews() *int64 {
	if p.MaxViews == nil {
		return nil
	}
	remaining := *p.MaxViews - p.ViewCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CreatePasteRequest is the canonical creation input accepted by the service.
// The HTTP layer adapts alternate field spellings into this shape.
type CreatePasteRequest struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

// CreatePasteResponse represents the response for a created paste
type CreatePasteResponse struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// FetchPasteResponse represents a successful read of a paste.
// Nil fields are rendered as JSON null.
type FetchPasteResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}
