package workers

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envconfigPrefix = "QUEUE"

// Config represents configuration for the job handlers.
type Config struct {
	// MaxAttempts is how many times a host operation is attempted before its
	// job fails.
	MaxAttempts uint8 `envconfig:"MAX_ATTEMPTS" default:"1"`
	// TemplateConcurrency is how many pipelines may run at once.
	TemplateConcurrency int `envconfig:"TEMPLATE_CONCURRENCY" default:"1"`
	// PollInterval is the delay between polls of an expose-database-ports job
	// awaited while resolving variables.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	// PollMaxAttempts bounds those polls.
	PollMaxAttempts int `envconfig:"POLL_MAX_ATTEMPTS" default:"180"`
}

// GetConfigFromEnvironment returns job handler configuration derived from
// environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	err := envconfig.Process(envconfigPrefix, &c)
	return c, errors.Wrap(
		err,
		"error getting queue configuration from environment",
	)
}
