package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process-wide zerolog logger and the sinks behind it.
// Console output always goes to stderr because stdout carries the MCP stream.
type Logger struct {
	logger   zerolog.Logger
	closers  []io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level          string   // debug, info, warn, error
	File           string   // optional log file path
	Console        bool     // write to stderr
	Pretty         bool     // human readable console output
	Redaction      bool     // scrub credentials before writing
	RedactPatterns []string // extra regular expressions to scrub
	MaxSize        int      // MB before rotation, 0 disables rotation
	MaxAge         int      // days to keep rotated files
	Compress       bool     // gzip rotated files
}

// New builds the logger and installs it as the zerolog global.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)

	var (
		writers []io.Writer
		closers []io.Closer
	)

	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, console)
	}

	if cfg.File != "" {
		w, closer, err := openFileSink(cfg)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
		closers = append(closers, closer)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := redactor.AddPattern(pattern); err != nil {
				closeAll(closers)
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
		writer = redactor.Wrap(writer)
	}

	zl := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = zl

	return &Logger{
		logger:   zl,
		closers:  closers,
		redactor: redactor,
	}, nil
}

func openFileSink(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.MaxSize > 0 {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, nil, err
		}
		return rw, rw, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, file, nil
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// SetLevel changes the level of this logger and of the global logger.
func (l *Logger) SetLevel(level string) {
	l.logger = l.logger.Level(ParseLevel(level))
	log.Logger = l.logger
}

// Close closes the logger and any open files
func (l *Logger) Close() error {
	err := closeAll(l.closers)
	l.closers = nil
	return err
}

func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    false,
		Redaction: true,
		MaxSize:   50,
		MaxAge:    7,
		Compress:  true,
	}
}
