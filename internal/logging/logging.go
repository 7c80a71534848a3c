// Package logging builds the zerolog loggers used across the service.
// Every line is a JSON object with ts, level and msg, plus a component field per subsystem.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger writing to w with timestamps rendered in loc.
func New(w io.Writer, level string, loc *time.Location) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if loc == nil {
		loc = time.UTC
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		Hook(locationHook{loc: loc}).
		With().
		Logger()
}

// Component derives a child logger tagged with the subsystem name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop is a logger that discards everything; used by tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

type locationHook struct {
	loc *time.Location
}

func (h locationHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str("ts", time.Now().In(h.loc).Format(time.RFC3339Nano))
}
