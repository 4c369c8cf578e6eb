package logger

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
)

// New builds the process logger. Unknown levels fall back to info.
func New(cfg config.LogConfig, service string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return l.WithField("service", service)
}
