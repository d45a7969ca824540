package logging

import (
	"log/slog"
	"os"
)

// New builds the JSON logger every service uses; service lands on each
// record so the aggregated streams stay separable.
func New(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h).With("service", service)
}
