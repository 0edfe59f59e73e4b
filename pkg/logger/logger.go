package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a new configured logger instance
func NewLogger(level, format string) *logrus.Logger {
	return NewLoggerTo(os.Stdout, level, format)
}

// NewLoggerTo creates a configured logger writing to the given writer. The
// stdio transport keeps stdout clean for JSON-RPC frames and passes os.Stderr.
func NewLoggerTo(w io.Writer, level, format string) *logrus.Logger {
	log := logrus.New()

	log.SetOutput(w)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	return log
}

// WithComponent adds a component field to log entries
func WithComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
