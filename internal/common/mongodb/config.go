package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/krancour/hoist/internal/common/retries"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const envconfigPrefix = "MONGODB"

// Config represents common configuration options for a MongoDB connection.
// When ConnectionString is set, the discrete fields are ignored.
type Config struct {
	ConnectionString string `envconfig:"CONNECTION_STRING"`
	Host             string `envconfig:"HOST"`
	Port             int    `envconfig:"PORT" default:"27017"`
	Database         string `envconfig:"DATABASE" required:"true"`
	ReplicaSet       string `envconfig:"REPLICA_SET"`
	Username         string `envconfig:"USERNAME"`
	Password         string `envconfig:"PASSWORD"`
}

// GetConfigFromEnvironment returns MongoDB connection configuration derived
// from environment variables.
func GetConfigFromEnvironment() (Config, error) {
	c := Config{}
	err := envconfig.Process(envconfigPrefix, &c)
	return c, errors.Wrap(
		err,
		"error getting mongo configuration from environment",
	)
}

// connectionString returns the connection string described by the Config.
func (c Config) connectionString() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	connectionString := fmt.Sprintf(
		"mongodb://%s:%s@%s:%d/%s",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
	if c.ReplicaSet != "" {
		connectionString =
			fmt.Sprintf("%s?replicaSet=%s", connectionString, c.ReplicaSet)
	}
	return connectionString
}

// Database returns a connection to the MongoDB database described by the
// provided Config.
func Database(
	ctx context.Context,
	config Config,
	logger *logrus.Entry,
) (*mongo.Database, error) {
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connectCancel()
	// This client's settings favor consistency over speed
	client, err := mongo.Connect(
		connectCtx,
		options.Client().ApplyURI(config.connectionString()).SetWriteConcern(
			writeconcern.New(writeconcern.WMajority()),
		).SetReadConcern(readconcern.Majority()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to mongo")
	}
	if err = retries.ManageRetries(
		ctx,
		logger,
		"ping mongo",
		5,
		10*time.Second,
		func() (bool, error) {
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			defer pingCancel()
			if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
				return true, err
			}
			return false, nil
		},
	); err != nil {
		return nil, errors.Wrap(err, "error connecting to mongo")
	}
	return client.Database(config.Database), nil
}
