package main

import (
	"context"
	"os"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis"
	"github.com/kelseyhightower/envconfig"
	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/common/mongodb"
	"github.com/krancour/hoist/internal/common/redis"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/core/memory"
	coremongodb "github.com/krancour/hoist/internal/core/mongodb"
	"github.com/krancour/hoist/internal/events"
	eventsredis "github.com/krancour/hoist/internal/events/redis"
	"github.com/krancour/hoist/internal/pipeline"
	"github.com/krancour/hoist/internal/platform"
	"github.com/krancour/hoist/internal/queue"
	qmemory "github.com/krancour/hoist/internal/queue/memory"
	qredis "github.com/krancour/hoist/internal/queue/redis"
	"github.com/krancour/hoist/internal/remote/ssh"
	"github.com/krancour/hoist/internal/workers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	backendMemory  = "memory"
	backendMongoDB = "mongodb"
	backendRedis   = "redis"
)

// backendConfig selects the implementations behind the queue, the Event Bus,
// and the document store.
type backendConfig struct {
	// QueueBackend is redis or memory. It also selects the Event Bus.
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"redis"`
	// StoreBackend is mongodb or memory.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"mongodb"`
}

// runtime is everything a command needs, constructed from the environment.
type runtime struct {
	logger      *logrus.Logger
	stores      core.Stores
	bus         events.Bus
	registry    *queue.Registry
	redisClient *goredis.Client
}

func newRuntime(ctx context.Context) (*runtime, error) {
	logConfig, err := logging.GetConfigFromEnvironment()
	if err != nil {
		return nil, err
	}
	r := &runtime{
		logger: logging.NewLogger(logConfig, os.Stderr),
	}
	config := backendConfig{}
	if err = envconfig.Process("HOIST", &config); err != nil {
		return nil, errors.Wrap(
			err,
			"error getting backend configuration from environment",
		)
	}

	switch strings.ToLower(config.StoreBackend) {
	case backendMemory:
		r.stores = memory.NewStores()
	case backendMongoDB:
		mongoConfig, err := mongodb.GetConfigFromEnvironment()
		if err != nil {
			return nil, err
		}
		database, err := mongodb.Database(
			ctx,
			mongoConfig,
			logging.ForComponent(r.logger, "mongodb"),
		)
		if err != nil {
			return nil, err
		}
		if r.stores, err = coremongodb.NewStores(database); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf(
			"unrecognized store backend %q; expected %s or %s",
			config.StoreBackend,
			backendMongoDB,
			backendMemory,
		)
	}

	var backend queue.Backend
	switch strings.ToLower(config.QueueBackend) {
	case backendMemory:
		r.bus = events.NewMemoryBus(nil)
		backend = qmemory.NewBackend()
	case backendRedis:
		redisConfig, err := redis.GetConfigFromEnvironment()
		if err != nil {
			return nil, err
		}
		if r.redisClient, err = redis.Client(
			ctx,
			redisConfig,
			logging.ForComponent(r.logger, "redis"),
		); err != nil {
			return nil, err
		}
		r.bus = eventsredis.NewBus(
			r.redisClient,
			&eventsredis.BusOptions{RedisPrefix: redisConfig.Prefix},
			logging.ForComponent(r.logger, "events"),
		)
		if backend, err = qredis.NewBackend(
			r.redisClient,
			&qredis.BackendOptions{RedisPrefix: redisConfig.Prefix},
			logging.ForComponent(r.logger, "queue"),
		); err != nil {
			r.close()
			return nil, err
		}
	default:
		return nil, errors.Errorf(
			"unrecognized queue backend %q; expected %s or %s",
			config.QueueBackend,
			backendRedis,
			backendMemory,
		)
	}
	r.registry = queue.NewRegistry(
		backend,
		r.bus,
		nil,
		logging.ForComponent(r.logger, "queue"),
	)
	return r, nil
}

func (r *runtime) close() {
	if r.bus != nil {
		r.bus.Close() // nolint: errcheck
	}
	if r.redisClient != nil {
		r.redisClient.Close() // nolint: errcheck
	}
}

func (r *runtime) dialer() (platform.Dialer, error) {
	sshConfig, err := ssh.GetConfigFromEnvironment()
	if err != nil {
		return nil, err
	}
	opener, err := ssh.NewOpener(sshConfig, logging.ForComponent(r.logger, "ssh"))
	if err != nil {
		return nil, err
	}
	return platform.NewDialer(opener), nil
}

// startWorkers registers every job handler and runs the queue Registry in the
// background. The returned stop func cancels the Registry and waits for its
// workers to finish their current jobs.
func (r *runtime) startWorkers(
	ctx context.Context,
) (*pipeline.Orchestrator, func(), error) {
	dialer, err := r.dialer()
	if err != nil {
		return nil, nil, err
	}
	pipelineConfig, err := pipeline.GetConfigFromEnvironment()
	if err != nil {
		return nil, nil, err
	}
	workersConfig, err := workers.GetConfigFromEnvironment()
	if err != nil {
		return nil, nil, err
	}
	orchestrator := pipeline.NewOrchestrator(
		r.stores,
		dialer,
		r.registry,
		r.bus,
		&pipeline.Options{
			PollInterval: pipelineConfig.PollInterval,
			MaxAttempts:  pipelineConfig.MaxAttempts,
		},
		logging.ForComponent(r.logger, "pipeline"),
	)
	workers.New(
		workersConfig,
		r.stores,
		dialer,
		r.bus,
		r.registry,
		orchestrator,
		nil,
		logging.ForComponent(r.logger, "workers"),
	).Register()

	runCtx, cancel := context.WithCancel(ctx)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.registry.Run(runCtx); err != nil &&
			errors.Cause(err) != context.Canceled {
			r.logger.WithError(err).Error("queue registry stopped")
		}
	}()
	return orchestrator, func() {
		cancel()
		wg.Wait()
	}, nil
}
