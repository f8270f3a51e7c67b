package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func logLevel() zerolog.Level {
	if opts.Verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// consoleLogger writes human-readable lines to stderr.
func consoleLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(logLevel()).With().Timestamp().Logger()
}

// defaultLogFile sits next to the config file.
func defaultLogFile() string {
	return filepath.Join(filepath.Dir(opts.configPath()), "console.log")
}

// fileLogger writes JSON lines to a rotating file. The TUI owns the terminal
// while it runs, so nothing may be written to stderr.
func fileLogger(path string) (zerolog.Logger, io.Closer) {
	if path == "" {
		path = defaultLogFile()
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return zerolog.New(w).Level(logLevel()).With().Timestamp().Logger(), w
}
