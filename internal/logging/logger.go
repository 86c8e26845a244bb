// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination of the global logger.
type Config struct {
	// Level is one of trace, debug, info, warn, error, fatal, panic or
	// disabled. Unknown names mean info.
	Level string

	// Format is json (default) or console.
	Format string

	Caller    bool
	Timestamp bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns info level JSON lines on stderr.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"panic":    zerolog.PanicLevel,
	"disabled": zerolog.Disabled,
	"off":      zerolog.Disabled,
}

// global is swapped whole by Init and SetLogger so readers never lock.
var global atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // packages log before cmd/pkbd calls Init
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	cfg := DefaultConfig()
	if os.Getenv("PKB_QUIET_TESTS") == "1" {
		cfg.Level = "fatal"
	}
	Init(cfg)
}

// Init builds the global logger from cfg. Calling it again replaces the
// logger; loggers already derived with WithComponent keep the old output.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	l := ctx.Logger()
	global.Store(&l)
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
}

func parseLevel(name string) zerolog.Level {
	if l, ok := levels[strings.ToLower(name)]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger { return *global.Load() }

// SetLogger replaces the global logger. Tests use it to capture output.
//
//nolint:gocritic // zerolog.Logger is passed by value throughout zerolog
func SetLogger(l zerolog.Logger) { global.Store(&l) }

// Info starts an info message on the global logger.
//
//	logging.Info().Str("directory", dir).Msg("Repository opened")
func Info() *zerolog.Event  { return global.Load().Info() }
func Debug() *zerolog.Event { return global.Load().Debug() }
func Warn() *zerolog.Event  { return global.Load().Warn() }
func Error() *zerolog.Event { return global.Load().Error() }

// Fatal exits the process with status 1 once the message is written.
func Fatal() *zerolog.Event { return global.Load().Fatal() }

// Err starts an error message carrying err, or an info message when err
// is nil.
//
//	logging.Err(err).Str("remote", name).Msg("Fetch failed")
func Err(err error) *zerolog.Event { return global.Load().Err(err) }

// GetLevel and SetLevel read and write the process-wide minimum level.
func GetLevel() zerolog.Level       { return zerolog.GlobalLevel() }
func SetLevel(level zerolog.Level) { zerolog.SetGlobalLevel(level) }

// SetLevelString is SetLevel by name, used on config reload.
func SetLevelString(level string) { SetLevel(parseLevel(level)) }
