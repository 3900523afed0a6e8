// Package logger builds the process logger: logrus to stdout, optionally
// teed to a size-rotated file.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"solana-position-engine/internal/tracing"
)

// Config holds logging settings.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	OutputFile string // optional; empty logs to stdout only
	MaxSize    int    // megabytes before rotation
	MaxBackups int    // rotated files kept
	MaxAge     int    // days rotated files are kept
	Compress   bool   // gzip rotated files
}

// DefaultConfig returns stdout logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}

// New creates a logger from cfg. The returned closer flushes and closes the
// log file, if any.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "06-01-02 15:04:05.000",
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	log.AddHook(TraceHook{})

	var closer io.Closer = nopCloser{}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
		closer = file
	}

	return log, closer, nil
}

// TraceHook adds trace_id and span_id to entries logged with a context
// that carries a recording span.
type TraceHook struct{}

// Levels implements logrus.Hook.
func (TraceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	traceID, spanID, ok := tracing.TraceFields(entry.Context)
	if !ok {
		return nil
	}
	entry.Data["trace_id"] = traceID
	entry.Data["span_id"] = spanID
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
