// Package logger builds the zerolog loggers used across Voton.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Builder configures a zerolog.Logger.
type Builder struct {
	writer io.Writer
	path   string
	level  zerolog.Level
	name   string
}

// Data is a built logger plus the file it writes to, if any.
type Data struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

// New returns a Builder that writes info and above to stdout.
func New() *Builder {
	return &Builder{writer: os.Stdout, level: zerolog.InfoLevel}
}

// FromPath appends log lines to the file at path.
func (b *Builder) FromPath(path string) *Builder {
	b.path = path
	return b
}

// FromWriter writes log lines to w.
func (b *Builder) FromWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

// Level sets the minimum level from its name (debug, info, warn, error).
// Unknown names fall back to info.
func (b *Builder) Level(name string) *Builder {
	b.level = ParseLevel(name)
	return b
}

// Component tags every line with a component field.
func (b *Builder) Component(name string) *Builder {
	b.name = name
	return b
}

// Make builds the logger.
func (b *Builder) Make() (*Data, error) {
	data := new(Data)
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		data.LogFile = f
		w = zerolog.SyncWriter(f)
	}

	ctx := zerolog.New(w).Level(b.level).With().Timestamp()
	if b.name != "" {
		ctx = ctx.Str("component", b.name)
	}
	data.Logger = ctx.Logger()
	return data, nil
}

// Close closes the log file, if one was opened.
func (d *Data) Close() error {
	if d.LogFile == nil {
		return nil
	}
	return d.LogFile.Close()
}

// ParseLevel maps a level name onto a zerolog level.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
