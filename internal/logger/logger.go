// Package logger provides the process-wide zerolog.Logger and named
// component sub-loggers used throughout chsk.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger, configured once via Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. level is a zerolog level name
// ("debug", "info", ...); pretty selects human-readable console output
// over JSON.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "chsk").Logger()

	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Registry logs server connection registry lifecycle (attach/detach/grace).
func Registry() *zerolog.Logger { return component("registry") }

// Fanout logs send-buffer/flush/fanout retry activity.
func Fanout() *zerolog.Logger { return component("fanout") }

// WebSocket logs adapter-level WebSocket transport events.
func WebSocket() *zerolog.Logger { return component("websocket") }

// HTTP logs the Ajax POST/GET handlers.
func HTTP() *zerolog.Logger { return component("http") }

// Security logs CSRF/origin/authorization failures.
func Security() *zerolog.Logger { return component("security") }

// Client logs the client-side connection state machines.
func Client() *zerolog.Logger { return component("client") }
