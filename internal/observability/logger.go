package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a stdout logger based on environment
func NewLogger(environment string) *slog.Logger {
	return NewLoggerTo(os.Stdout, environment)
}

// NewLoggerTo creates a logger writing to w. Production gets JSON with
// source locations at info level; everything else gets readable text at
// debug level, which includes not-found reasons.
func NewLoggerTo(w io.Writer, environment string) *slog.Logger {
	var handler slog.Handler

	if environment == "production" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	return slog.New(handler).With(slog.String("component", "pastebin"))
}
