// Package log wires up the structured logger shared by every subsystem,
// following the same logrus + dugong + stdemuxerhook bootstrap dendrite uses
// in its setup package.
package log

import (
	"io"
	"os"

	"github.com/MFAshby/stdemuxerhook"
	"github.com/matrix-org/dugong"
	"github.com/sirupsen/logrus"
)

// Options configures the shared logger.
type Options struct {
	// Level is one of logrus's parseable level strings ("debug", "info", ...).
	Level string
	// DirPath, when non-empty, enables daily-rotated file output in addition
	// to stdout/stderr.
	DirPath string
	// Component names this process's logger, e.g. "sync-engine" or "e2e".
	Component string
}

// New builds a *logrus.Entry for the given options. Every package in this
// module obtains its logger via a call to New (or a child of one, via
// WithField), rather than using logrus's global default logger directly.
func New(opts Options) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard) // individual hooks below decide where bytes go

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// stdemuxerhook splits Warn+ to stderr and the rest to stdout, matching
	// dendrite's foreground logging behaviour.
	logger.AddHook(stdemuxerhook.NewHook(logger.Formatter))

	if opts.DirPath != "" {
		hook, hookErr := dugong.NewDailyRotateFileHook(dugong.DailyRotateFileHookConfig{
			Formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
			Dir:       opts.DirPath,
		})
		if hookErr == nil {
			logger.AddHook(hook)
		} else {
			logger.WithError(hookErr).Warn("failed to enable file logging; continuing with stdout/stderr only")
		}
	}

	return logger.WithField("component", opts.Component)
}

// NewDiscard returns a logger that drops all output, for tests that don't
// want to assert on log content but still need an *logrus.Entry to pass in.
func NewDiscard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}
