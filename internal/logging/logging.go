package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. JSON in production, colored
// text otherwise. Unknown levels fall back to info.
func Setup(level string, production bool) {
	logrus.SetOutput(os.Stdout)
	if production {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
