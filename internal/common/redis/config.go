package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/kelseyhightower/envconfig"
	"github.com/krancour/hoist/internal/common/retries"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const envconfigPrefix = "REDIS"

// Config represents common configuration options for a Redis connection.
type Config struct {
	Host      string `envconfig:"HOST" required:"true"`
	Port      int    `envconfig:"PORT" default:"6379"`
	Password  string `envconfig:"PASSWORD"`
	DB        int    `envconfig:"DB"`
	EnableTLS bool   `envconfig:"ENABLE_TLS"`
	// Prefix namespaces every key hoist writes within a shared database.
	Prefix string `envconfig:"PREFIX" default:"hoist"`
}

// GetConfigFromEnvironment returns Redis connection configuration derived
// from environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	err := envconfig.Process(envconfigPrefix, &c)
	return c, errors.Wrap(
		err,
		"error getting redis configuration from environment",
	)
}

// Client returns a connection to the Redis database described by the provided
// Config. The connection is verified before it is returned. One client is
// meant to be constructed at process start and shared by the queue backend
// and the event bus.
func Client(
	ctx context.Context,
	config Config,
	logger *logrus.Entry,
) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: 5,
	}
	if config.EnableTLS {
		redisOpts.TLSConfig = &tls.Config{
			ServerName: config.Host,
		}
	}
	client := redis.NewClient(redisOpts)
	if err := retries.ManageRetries(
		ctx,
		logger,
		"ping redis",
		5,
		10*time.Second,
		func() (bool, error) {
			if err := client.Ping().Err(); err != nil {
				return true, err
			}
			return false, nil
		},
	); err != nil {
		client.Close() // nolint: errcheck
		return nil, errors.Wrap(err, "error connecting to redis")
	}
	return client, nil
}
