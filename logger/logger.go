package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github/itish2003/pdfqa/config"
)

// Init configures the standard logrus logger from the configuration.
// Components log through logrus directly with structured fields.
func Init(cfg *config.Config) {
	logrus.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
	}
	logrus.WithField("level", level.String()).Debug("logging initialized")
}
