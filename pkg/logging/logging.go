package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"pollstore/config"
)

// Setup configures the standard logrus logger from cfg and directs it to out.
func Setup(cfg config.LoggingConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
