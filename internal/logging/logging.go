// Package logging wraps logrus with a rotating file sink, in the shape
// of easyspace-ai-upcow's pkg/logger, simplified: no cycle-based file
// naming (not applicable outside that repo's periodic-market domain).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Init.
type Options struct {
	Level      string // debug|info|warn|error
	OutputFile string // optional; empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is the process-wide logger. Nil until Init runs; callers
// through the package-level helpers below tolerate that by falling
// back to a bare logrus.New().
var Logger *logrus.Logger

// Init configures the global Logger per Options.
func Init(opts Options) error {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	writers := []io.Writer{os.Stdout}
	if opts.OutputFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.OutputFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	Logger = l
	return nil
}

func ensure() *logrus.Logger {
	if Logger == nil {
		Logger = logrus.New()
	}
	return Logger
}

func Debugf(format string, args ...interface{}) { ensure().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { ensure().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { ensure().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { ensure().Errorf(format, args...) }

func WithField(key string, value interface{}) *logrus.Entry {
	return ensure().WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return ensure().WithFields(fields)
}
