// Package ulogger wraps zerolog behind a small interface, with
// level/format switches read from gocore's flat config store instead
// of a Go-native options struct.
package ulogger

import (
	"os"
	"strings"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
)

// Logger is the structured logging surface every package in this
// module takes instead of reaching for log.Printf directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	With(fields map[string]interface{}) Logger
}

// ZLogger is the zerolog-backed Logger implementation.
type ZLogger struct {
	zerolog.Logger
	service string
}

// New constructs a service-scoped logger. Level defaults to "info" and
// can be overridden positionally or via the "logLevel" gocore key.
func New(service string, logLevel ...string) *ZLogger {
	if service == "" {
		service = "pegzone"
	}

	var z *ZLogger
	if gocore.Config().GetBool("pretty_logs", true) {
		z = prettyLogger(service)
	} else {
		z = &ZLogger{
			Logger: zerolog.New(os.Stdout).With().
				CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2).
				Timestamp().
				Str("service", service).
				Logger(),
			service: service,
		}
	}

	if level, ok := gocore.Config().Get("logLevel"); ok {
		setLevel(level, z)
	}
	if len(logLevel) > 0 {
		setLevel(logLevel[0], z)
	}

	return z
}

func prettyLogger(service string) *ZLogger {
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	return &ZLogger{
		Logger: zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger(),
		service: service,
	}
}

func setLevel(level string, z *ZLogger) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "INFO":
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func (z *ZLogger) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *ZLogger) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *ZLogger) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *ZLogger) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *ZLogger) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }

func (z *ZLogger) With(fields map[string]interface{}) Logger {
	ctx := z.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &ZLogger{Logger: ctx.Logger(), service: z.service}
}
