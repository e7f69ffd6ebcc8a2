package logging

import (
	"log/slog"
	"os"
)

// Level is the process-wide threshold. The default handler and the pion
// bridge both read it, so SetLevel changes every logger at once.
var Level = new(slog.LevelVar)

// Init installs the default slog logger at the resolved level.
func Init(fallback slog.Level) {
	SetLevel(fallback)
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: Level}),
	))
}

// SetLevel sets Level to fallback unless LOG_LEVEL names a level.
func SetLevel(fallback slog.Level) {
	Level.Set(resolve(fallback))
}

func resolve(fallback slog.Level) slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "trace":
		return LevelTrace
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}
