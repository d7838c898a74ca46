package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Setup builds the hub's global zerolog logger at the given level, writing
// structured JSON to stdout with a timestamp on every entry.
func Setup(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zlog := logger
	zerolog.DefaultContextLogger = &zlog
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
