// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup sets level and formatter on the standard logger. Production uses JSON
// output; anything else gets the text formatter with full timestamps.
func Setup(level string, production bool) {
	configure(log.StandardLogger(), os.Stdout, level, production)
}

func configure(logger *log.Logger, out io.Writer, level string, production bool) {
	logger.SetOutput(out)
	if production {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
}

// Component returns an entry tagged with the component name.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
