package logging

import (
	"io"

	"github.com/phuslu/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the logger used by the binaries. with an empty file it writes
// pretty lines to the console; otherwise it writes json lines into file,
// rotating it once it grows past 10MB.
func New(level string, file string) *log.Logger {
	logger := log.DefaultLogger

	logger.Level = log.ParseLevel(level)
	logger.Caller = 1

	if file == "" {
		// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
		logger.TimeFormat = "15:04:05"
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			QuoteString:    true,
			EndWithMessage: true,
		}
		return &logger
	}

	logger.Writer = &log.IOWriter{
		Writer: &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		},
	}
	return &logger
}

// Discard returns a logger that writes nowhere. components fall back to it
// when given a nil logger, which is what tests do.
func Discard() *log.Logger {
	logger := log.DefaultLogger
	logger.Writer = &log.IOWriter{Writer: io.Discard}
	return &logger
}

// OrDiscard returns logger, or a silenced one if logger is nil.
func OrDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
