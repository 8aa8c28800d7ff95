package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/turbot/pipe-fittings/sanitize"
	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// LevelOff is above every level slog emits, so nothing is written
const LevelOff = slog.Level(12)

func Initialize(appName string) {
	slog.SetDefault(processorLogger(appName, os.Stderr))
}

// processorLogger returns a JSON logger tagged with the application name, which sanitizes log entries
func processorLogger(appName string, w io.Writer) *slog.Logger {
	level := getLogLevel()
	if level == LevelOff {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	}

	handlerOptions := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			sanitized := sanitize.Instance.SanitizeKeyValue(a.Key, a.Value.Any())
			// log messages can be huge, never write more than a page of one
			if s, ok := sanitized.(string); ok && len(s) > maxAttrLength {
				sanitized = s[:maxAttrLength] + "..."
			}
			return slog.Attr{
				Key:   a.Key,
				Value: slog.AnyValue(sanitized),
			}
		},
	}
	return slog.New(slog.NewJSONHandler(w, handlerOptions)).With("source", appName)
}

const maxAttrLength = 4096

func getLogLevel() slog.Leveler {
	levelEnv := os.Getenv(constants.EnvLogLevel)

	switch strings.ToLower(levelEnv) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "off":
		return LevelOff
	default:
		return slog.LevelInfo
	}
}
