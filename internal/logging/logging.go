// Package logging configures the process-wide logrus logger from the
// environment so every command and the admin server log the same way.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	std  *logrus.Logger
)

// Setup builds the logger. LOG_LEVEL selects debug|info|warn|error (default
// info) and LOG_FORMAT selects text|json (default text). Output is stderr.
func Setup() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		lg.SetFormatter(&logrus.JSONFormatter{})
	} else {
		lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	std = lg
	return lg
}

// L returns the process logger, setting it up on first use.
func L() *logrus.Logger {
	once.Do(func() {
		if std == nil {
			Setup()
		}
	})
	return std
}

// Component returns an entry tagged with the component name, the structured
// counterpart of a "[component]" log prefix.
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}
