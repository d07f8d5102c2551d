package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/pastebin/internal/model"
	"github.com/zhejian/pastebin/internal/service"
)

// TestNowHeader overrides the read clock when test mode is enabled
const TestNowHeader = "x-test-now-ms"

// maxBodyBytes leaves room for a maximal paste written entirely in
// escaped multi-byte characters
const maxBodyBytes = 8 << 20

// Handler holds HTTP handlers and dependencies.
// It follows the dependency injection pattern, receiving
// interfaces rather than concrete implementations for testability.
type Handler struct {
	pasteService service.PasteServiceInterface // Paste lifecycle business logic
	db           DBInterface                   // Paste store for health checks
	cache        CacheInterface                // Optional cache for health checks
	logger       *slog.Logger
	testMode     bool // Honour the x-test-now-ms header on reads
	clock        func() time.Time
}

// DBInterface defines the store operations needed by the handler.
// This interface allows for easy mocking in unit tests without
// requiring a real database connection.
type DBInterface interface {
	Ping(ctx context.Context) error
	Close()
}

// CacheInterface defines the cache operations needed by the handler.
type CacheInterface interface {
	Ping(ctx context.Context) error
}

// NewHandler creates a new handler instance with the provided dependencies.
// A nil cache reports the cache as disabled in health checks.
func NewHandler(pasteService service.PasteServiceInterface, db DBInterface, cache CacheInterface, logger *slog.Logger, testMode bool) *Handler {
	return &Handler{
		pasteService: pasteService,
		db:           db,
		cache:        cache,
		logger:       logger,
		testMode:     testMode,
		clock:        time.Now,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller is responsible for creating the engine and adding middleware
// before calling this method, so middleware runs in the correct order.
// Routes are organized into:
//   - Health check endpoints for monitoring
//   - JSON API endpoints for pastes (grouped under /api)
//   - Public HTML view of a paste
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(pageTemplates)

	// Health check endpoint
	r.GET("/health", h.healthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/healthz", h.healthz)       // Liveness probe
		apiGroup.POST("/pastes", h.createPaste)   // Create paste
		apiGroup.GET("/pastes/:id", h.fetchPaste) // Read paste (consumes a view)
	}

	// HTML view (public)
	r.GET("/p/:id", h.viewPaste)
}

// healthCheck handles GET /health
// Returns the health status of the service and all dependencies.
// Response codes:
//   - 200 OK: All dependencies are healthy
//   - 503 Service Unavailable: One or more dependencies are down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "ok"
	code := http.StatusOK
	deps := gin.H{"cache": "disabled", "database": "up"}

	if h.cache != nil {
		deps["cache"] = "up"
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			deps["cache"] = "down"
		}
	}
	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["database"] = "down"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// healthz handles GET /api/healthz
// Reports only whether the paste store is reachable.
func (h *Handler) healthz(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// createPaste handles POST /api/pastes
// Request body: {content, ttl_seconds|ttl_Seconds, max_views|max_Views}
// Response codes:
//   - 201 Created: Paste stored
//   - 400 Bad Request: Malformed body or invalid field
//   - 413 Request Entity Too Large: Body over the size limit
//   - 500 Internal Server Error: Store unavailable
func (h *Handler) createPaste(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorResponse(c, http.StatusRequestEntityTooLarge, "Request body too large", "content")
			return
		}
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	req, err := parseCreateRequest(body)
	if err == nil {
		var resp *model.CreatePasteResponse
		resp, err = h.pasteService.CreatePaste(ctx, req)
		if err == nil {
			c.JSON(http.StatusCreated, resp)
			return
		}
	}

	// Map errors to appropriate HTTP status codes
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		h.logger.DebugContext(ctx, "rejected paste",
			slog.String("field", verr.Field),
			slog.String("reason", verr.Reason))
		h.errorResponse(c, http.StatusBadRequest, verr.Error(), verr.Field)
	case errors.Is(err, errNotAnObject):
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body", "")
	default:
		h.logger.ErrorContext(ctx, "unexpected error creating paste",
			slog.String("error", err.Error()))
		h.errorResponse(c, http.StatusInternalServerError, "Internal server error", "")
	}
}

// fetchPaste handles GET /api/pastes/:id
// Every successful call consumes one view.
// Response codes:
//   - 200 OK: Paste content with remaining views and expiry
//   - 404 Not Found: Missing, expired or view limit reached (indistinguishable)
//   - 500 Internal Server Error: Store unavailable
func (h *Handler) fetchPaste(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	resp, err := h.pasteService.FetchPaste(ctx, id, h.nowMs(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPasteNotFound):
			h.errorResponse(c, http.StatusNotFound, "Paste not found", "")
		default:
			h.logger.ErrorContext(ctx, "unexpected error fetching paste",
				slog.String("error", err.Error()),
				slog.String("id", id))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error", "")
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// viewPaste handles GET /p/:id
// Same read protocol as fetchPaste, rendered as an HTML page.
func (h *Handler) viewPaste(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	resp, err := h.pasteService.FetchPaste(ctx, id, h.nowMs(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPasteNotFound):
			c.HTML(http.StatusNotFound, notFoundTemplate, nil)
		default:
			h.logger.ErrorContext(ctx, "unexpected error rendering paste",
				slog.String("error", err.Error()),
				slog.String("id", id))
			c.HTML(http.StatusInternalServerError, errorTemplate, nil)
		}
		return
	}

	c.HTML(http.StatusOK, pasteTemplate, pasteView{
		ID:             id,
		Content:        resp.Content,
		RemainingViews: resp.RemainingViews,
		ExpiresAt:      resp.ExpiresAt,
	})
}

// nowMs returns the read clock. In test mode a valid x-test-now-ms header
// takes precedence; a malformed one falls back to wall-clock time.
func (h *Handler) nowMs(c *gin.Context) int64 {
	if h.testMode {
		if raw := c.GetHeader(TestNowHeader); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return ms
			}
		}
	}
	return h.clock().UnixMilli()
}

// errorResponse sends a standardized JSON error response.
// It uses the HTTP status code to determine the error type
// and includes a custom message for additional context.
func (h *Handler) errorResponse(c *gin.Context, status int, message, field string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status), // e.g., "Bad Request", "Not Found"
		Message: message,
		Field:   field,
	})
}
