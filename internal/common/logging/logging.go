package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const envconfigPrefix = "LOG"

// Config represents logging configuration.
type Config struct {
	// Level is one of debug, info, warn, or error.
	Level string `envconfig:"LEVEL" default:"info"`
	// Format is one of json or text.
	Format string `envconfig:"FORMAT" default:"json"`
	// ReportCaller decorates every entry with the calling function and line.
	ReportCaller bool `envconfig:"REPORT_CALLER"`
}

// GetConfigFromEnvironment returns logging configuration derived from
// environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	err := envconfig.Process(envconfigPrefix, &c)
	return c, errors.Wrap(
		err,
		"error getting logging configuration from environment",
	)
}

// NewLogger returns a *logrus.Logger configured per the provided Config and
// writing to out. A nil out means os.Stdout.
func NewLogger(config Config, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)

	switch strings.ToLower(config.Level) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if strings.ToLower(config.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  "2006-01-02T15:04:05.000Z07:00",
			CallerPrettyfier: callerPrettyfier,
		})
	}

	logger.SetReportCaller(config.ReportCaller)
	return logger
}

// ForComponent returns an entry tagged with the name of the component that
// will be logging through it. A nil logger yields an entry on logrus' standard
// logger so components constructed in tests never need a logger.
func ForComponent(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", component)
}

// Discard returns an entry that writes nowhere.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	filename := path.Base(f.File)
	return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
}
