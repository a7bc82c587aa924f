package api

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envconfigPrefix = "API_SERVER"

// Config represents configuration for the API server.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	TLSEnabled  bool   `envconfig:"TLS_ENABLED"`
	TLSCertPath string `envconfig:"TLS_CERT_PATH"`
	TLSKeyPath  string `envconfig:"TLS_KEY_PATH"`
	// RecentLimit caps how many messages a read-back of a channel returns when
	// the caller does not ask for fewer.
	RecentLimit int `envconfig:"RECENT_LIMIT" default:"1000"`
}

// GetConfigFromEnvironment returns API server configuration derived from
// environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	if err := envconfig.Process(envconfigPrefix, &c); err != nil {
		return c, errors.Wrap(
			err,
			"error getting api server configuration from environment",
		)
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return c, errors.New(
			"with TLS enabled, values are required for the TLS_CERT_PATH and " +
				"TLS_KEY_PATH environment variables",
		)
	}
	return c, nil
}
