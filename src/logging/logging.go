package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the name of the rotating log file inside the log directory.
const FileName = "age_classifier.log"

// New returns a logger writing human readable output to stderr and, when
// dir is not empty, JSON lines to a rotating file in dir. The returned
// closer flushes and closes the file.
func New(level, dir string) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	var closer io.Closer = nopCloser{}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(dir, FileName),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     7,
		}
		w = zerolog.MultiLevelWriter(w, file)
		closer = file
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
	return logger, closer, nil
}

// ParseLevel accepts a zerolog level name ("debug") or its number ("0").
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	if n, err := strconv.Atoi(level); err == nil {
		return zerolog.Level(n), nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
