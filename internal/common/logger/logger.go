package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999999999Z07:00"
	zerolog.TimestampFieldName = "timestamp"
}

// Logger writes one JSON object per line: timestamp, level, service, action, hostname plus fields.
type Logger struct {
	service string
	zl      zerolog.Logger
}

func New(service string) *Logger { return NewWithWriter(service, os.Stdout) }

func NewWithWriter(service string, w io.Writer) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname()).
		Logger()
	return &Logger{service: service, zl: zl}
}

// Nop discards everything. Used by tests and by components built without a logger.
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// With returns a child logger for a sub-component, e.g. logger.New("floor").With("menu-cache").
func (l *Logger) With(component string) *Logger {
	return &Logger{service: l.service, zl: l.zl.With().Str("component", component).Logger()}
}

func (l *Logger) log(ev *zerolog.Event, action string, fields map[string]any, err error) {
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("action", action).Fields(fields).Msg(action)
}

func (l *Logger) Info(action string, fields map[string]any)  { l.log(l.zl.Info(), action, fields, nil) }
func (l *Logger) Debug(action string, fields map[string]any) { l.log(l.zl.Debug(), action, fields, nil) }
func (l *Logger) Warn(action string, fields map[string]any)  { l.log(l.zl.Warn(), action, fields, nil) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log(l.zl.Error(), action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
