package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout. The service attaches
// request-scoped attributes (request id, tenant id) at call sites rather than
// through handler wrappers.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
