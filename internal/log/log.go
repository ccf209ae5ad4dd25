// Package log holds the single package-level logger every other package
// logs through. It is configured once at startup from EV_LOG/EV_LOG_STYLE
// and treated as read-only afterwards -- one of the two pieces of
// process-wide mutable state in this module (the other is the EV_DOMAIN
// override in internal/transform).
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// Configure sets the logger's level and formatter from EV_LOG and
// EV_LOG_STYLE. Called once at startup by cmd/enclave's Execute (which
// main.go calls) before anything else logs.
func Configure() {
	level := logrus.InfoLevel
	if raw := os.Getenv("EV_LOG"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	if os.Getenv("EV_LOG_STYLE") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// L returns the configured logger.
func L() *logrus.Logger { return logger }
