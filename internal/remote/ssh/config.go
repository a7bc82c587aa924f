package ssh

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

const envconfigPrefix = "SSH"

// Config represents configuration options for the SSH transports.
type Config struct {
	// KnownHostsFile, when set, enables host key checking against the named
	// known_hosts file. Otherwise any host key is accepted.
	KnownHostsFile string `envconfig:"KNOWN_HOSTS_FILE"`
	// DialTimeout bounds how long establishing a connection may take.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"15s"`
	// OverlayPort is the SSH port hosts listen on within the overlay network.
	OverlayPort int `envconfig:"OVERLAY_PORT" default:"22"`
	// OverlayUsername is the user overlay sessions are opened as. Overlay
	// sessions present no credential; the overlay network authenticates peers.
	OverlayUsername string `envconfig:"OVERLAY_USERNAME" default:"dokku"`
	// ProbeCommand is run to verify a freshly opened overlay session.
	ProbeCommand string `envconfig:"PROBE_COMMAND" default:"true"`
}

// GetConfigFromEnvironment returns SSH transport configuration derived from
// environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	if err := envconfig.Process(envconfigPrefix, &c); err != nil {
		return c, errors.Wrap(
			err,
			"error getting ssh configuration from environment",
		)
	}
	if c.KnownHostsFile != "" {
		var err error
		if c.KnownHostsFile, err = homedir.Expand(c.KnownHostsFile); err != nil {
			return c, errors.Wrapf(
				err,
				"error expanding known hosts file path %q",
				c.KnownHostsFile,
			)
		}
	}
	return c, nil
}
