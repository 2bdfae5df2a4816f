// Package logging sets up structured logging for the store and queue
// core, following the JSON-on-stdout convention klistr's cmd/klistr/main.go
// uses for the rest of the bridge.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Setup installs a JSON slog handler at the given debug level and
// returns it as the process default. Level 0 is Info; anything ≥ 1 is
// Debug, matching §4.2's dbglevel/DEBUG semantics. out is optional
// extra destinations (e.g. a Broadcaster so /logs can tail recent
// lines); logs always also go to stdout.
func Setup(debugLevel int, out ...io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debugLevel >= 1 {
		level = slog.LevelDebug
	}
	dest := io.MultiWriter(append([]io.Writer{os.Stdout}, out...)...)
	logger := slog.New(slog.NewJSONHandler(dest, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// DebugLevelFromEnv reads the DEBUG environment variable as a decimal
// integer, returning fallback if it is unset or unparsable (§4.2).
func DebugLevelFromEnv(fallback int) int {
	v := os.Getenv("DEBUG")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Redact replaces the first occurrence of base in path with "~", so log
// lines never print the server or user base directory in full (§6).
func Redact(path, base string) string {
	if base == "" {
		return path
	}
	return strings.Replace(path, base, "~", 1)
}
