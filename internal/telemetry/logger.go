// Package telemetry wires logging and Prometheus metrics around the
// validation framework.
package telemetry

import (
	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger from the configured level and format.
// Unknown values fall back to info/JSON.
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
