package cli

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for --log-file.
const (
	logFileMaxSizeMB  = 50
	logFileMaxBackups = 3
	logFileMaxAgeDays = 14
)

// setupLogging installs the diagnostic logger. Diagnostics go to stderr and,
// with --log-file, to a rotated file; stdout stays reserved for protocol
// messages.
func (o *RootOptions) setupLogging(stderr io.Writer) error {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}

	w := stderr
	if o.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   o.LogFile,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
			Compress:   true,
		}
		o.logSink = rotator
		w = io.MultiWriter(stderr, rotator)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if o.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)
	return nil
}

func (o *RootOptions) closeLogging() error {
	if o.logSink == nil {
		return nil
	}
	err := o.logSink.Close()
	o.logSink = nil
	return err
}
