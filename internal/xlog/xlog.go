// Package xlog is the single logrus instance every package logs through.
// It exists so that log level and formatting are configured in exactly one
// place, driven by internal/config, instead of each package reaching for
// logrus.StandardLogger() directly.
package xlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Get returns the shared logger, initializing it on first use with
// defaults (info level, text formatter, stderr) that Configure can later
// override.
func Get() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// Configure applies a level by name (one of logrus's level strings, case
// insensitive). An unrecognized name leaves the current level untouched.
func Configure(levelName string) {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return
	}
	Get().SetLevel(level)
}
