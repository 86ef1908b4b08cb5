// Package logger builds the service logger and derives request-scoped entries.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Shivanand-hulikatti/library-lending/internal/config"
)

// New returns a logrus logger configured from cfg, writing to stderr.
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(cfg config.LogConfig, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}
	return log
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// For returns an entry tagged with the chi request id found in ctx, if any.
func For(ctx context.Context, log logrus.FieldLogger) logrus.FieldLogger {
	if id := chimiddleware.GetReqID(ctx); id != "" {
		return log.WithField("request_id", id)
	}
	return log
}
