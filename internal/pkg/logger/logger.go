package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

type Options struct {
	Level  string
	Format string
	Output io.Writer
}

func NewLogger() *Logger {
	return New(Options{})
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()

	return &Logger{zl: zl}
}

// Nop discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields ...interface{}) {
	if len(fields)%2 != 0 {
		fields = append(fields, "<missing>")
	}
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log(l.zl.Debug(), msg, fields...)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log(l.zl.Info(), msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log(l.zl.Warn(), msg, fields...)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log(l.zl.Error(), msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, fields...)
	os.Exit(1)
}

func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return l.WithField("correlation_id", correlationID)
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}
