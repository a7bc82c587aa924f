package pipeline

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envconfigPrefix = "PIPELINE"

// Config represents configuration for the Orchestrator.
type Config struct {
	// PollInterval is the delay between polls of a job the Orchestrator is
	// awaiting.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	// MaxAttempts bounds the polls of any one job.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"180"`
}

// GetConfigFromEnvironment returns Orchestrator configuration derived from
// environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	err := envconfig.Process(envconfigPrefix, &c)
	return c, errors.Wrap(
		err,
		"error getting pipeline configuration from environment",
	)
}
