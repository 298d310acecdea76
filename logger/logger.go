// Package logger
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Init(path string)
	InitMultiWriter(path string)
	SetLevel(level string) error

	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Debug(msg string)

	Err(err error) Logger
	WithStr(key, value string) Logger
	WithBool(key string, value bool) Logger
	WithInt(key string, value int) Logger
	WithAny(key string, value any) Logger
}

type logger struct {
	base zerolog.Logger
	path string
}

func New() Logger {
	return &logger{
		base: zerolog.Nop(),
		path: "./logs/swapbytes.log",
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &logger{base: zerolog.Nop()}
}

// NewWriter logs to w. Used by tests that want to assert on output.
func NewWriter(w io.Writer) Logger {
	return &logger{
		base: zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (l *logger) rotating() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   l.path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func (l *logger) Init(path string) {
	if path != "" {
		l.path = path
	}

	l.base = zerolog.New(l.rotating()).
		With().
		Timestamp().
		Logger()
}

// InitMultiWriter tees the rotating file with a human readable stderr stream.
func (l *logger) InitMultiWriter(path string) {
	if path != "" {
		l.path = path
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	multi := io.MultiWriter(console, l.rotating())

	l.base = zerolog.New(multi).
		With().
		Timestamp().
		Logger()
}

func (l *logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l.base = l.base.Level(lvl)
	return nil
}

func (l *logger) Info(msg string) {
	l.base.Info().Msg(msg)
}

func (l *logger) Warn(msg string) {
	l.base.Warn().Msg(msg)
}

func (l *logger) Error(msg string) {
	l.base.Error().Msg(msg)
}

func (l *logger) Debug(msg string) {
	l.base.Debug().Msg(msg)
}

func (l *logger) Err(err error) Logger {
	return &logger{base: l.base.With().Err(err).Logger(), path: l.path}
}

func (l *logger) WithStr(key, value string) Logger {
	return &logger{base: l.base.With().Str(key, value).Logger(), path: l.path}
}

func (l *logger) WithBool(key string, value bool) Logger {
	return &logger{base: l.base.With().Bool(key, value).Logger(), path: l.path}
}

func (l *logger) WithInt(key string, value int) Logger {
	return &logger{base: l.base.With().Int(key, value).Logger(), path: l.path}
}

func (l *logger) WithAny(key string, value any) Logger {
	return &logger{base: l.base.With().Interface(key, value).Logger(), path: l.path}
}

func LogPath(path string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, "swapbytes", path)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "swapbytes.log")
	return logPath, nil
}
