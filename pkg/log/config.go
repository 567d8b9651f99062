package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config declares a logger: level, format and outputs.
type Config struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string `json:"level"`
	// Format is "text" or "json".
	Format string `json:"format"`
	// File, when non-empty, adds a file output at the given path.
	File string `json:"file"`
	// Console controls the stderr output; defaults to true.
	Console *bool `json:"console"`
}

// ApplyConfig builds a Logger from a declarative Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	if cfg.Console == nil || *cfg.Console {
		opts = append(opts, WithOutput(NewConsoleOutput()))
	}
	if cfg.File != "" {
		fo, err := NewFileOutput(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("log: open file output: %w", err)
		}
		opts = append(opts, WithOutput(fo))
	}
	return NewLogger(opts...), nil
}

// RedirectStdLog routes the standard library's default logger (used by
// third-party code such as Pebble) into the given Logger at info level.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{l})
}

type stdLogWriter struct{ l Logger }

func (w stdLogWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
