// Package workers implements the handlers behind every queue hoist consumes.
// Each handler performs one operation against one remote host and streams the
// host's output to the job's channel.
package workers

import (
	"context"
	"sort"

	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/jobs"
	"github.com/krancour/hoist/internal/pipeline"
	"github.com/krancour/hoist/internal/platform"
	"github.com/krancour/hoist/internal/queue"
	"github.com/krancour/hoist/internal/remote"
	"github.com/krancour/hoist/internal/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"
)

// TemplateDeployer is the interface for components that run a pipeline.
// *pipeline.Orchestrator implements it.
type TemplateDeployer interface {
	DeployTemplate(
		ctx context.Context,
		templateID string,
		hostID string,
	) (pipeline.Result, error)
}

// Workers holds everything the job handlers need.
type Workers struct {
	config   Config
	stores   core.Stores
	dialer   platform.Dialer
	bus      events.Bus
	registry *queue.Registry
	deployer TemplateDeployer
	engine   *variables.Engine
	await    queue.AwaitOptions
	logger   *logrus.Entry
}

// New returns Workers. The deployer may be nil, in which case no handler is
// registered for the deploy-template queue.
func New(
	config Config,
	stores core.Stores,
	dialer platform.Dialer,
	bus events.Bus,
	registry *queue.Registry,
	deployer TemplateDeployer,
	clk clock.Clock,
	logger *logrus.Entry,
) *Workers {
	if logger == nil {
		logger = logging.Discard()
	}
	w := &Workers{
		config:   config,
		stores:   stores,
		dialer:   dialer,
		bus:      bus,
		registry: registry,
		deployer: deployer,
		await: queue.AwaitOptions{
			PollInterval: config.PollInterval,
			MaxAttempts:  config.PollMaxAttempts,
			Clock:        clk,
			Logger:       logger,
		},
		logger: logger,
	}
	w.engine = variables.NewEngine(
		stores.Services,
		stores.Deployments,
		w,
		logger.WithField("component", "variables"),
	)
	return w
}

// Register registers a handler with the Registry for every operation.
func (w *Workers) Register() {
	hostOps := map[string]queue.HandlerFn{
		jobs.SetVariables:        w.setVariables,
		jobs.DeployApp:           w.deployApp,
		jobs.DeployDocker:        w.deployDocker,
		jobs.CreateDatabase:      w.createDatabase,
		jobs.ExposeDatabasePorts: w.exposeDatabasePorts,
	}
	for operation, handler := range hostOps {
		// One job at a time per host queue keeps a host's mutations serial.
		w.registry.Handle(operation, queue.QueueConfig{
			Handler:     handler,
			Concurrency: 1,
			MaxAttempts: w.config.MaxAttempts,
		})
	}
	if w.deployer != nil {
		w.registry.Handle(jobs.DeployTemplate, queue.QueueConfig{
			Handler:     w.deployTemplate,
			Concurrency: w.config.TemplateConcurrency,
		})
	}
}

// ExposePorts exposes the database by enqueuing an expose-database-ports job on
// the host's queue and waiting for it to finish.
func (w *Workers) ExposePorts(
	ctx context.Context,
	host core.Host,
	database core.Service,
	channel string,
) error {
	handle, err := w.registry.Enqueue(
		ctx,
		jobs.HostQueue(jobs.ExposeDatabasePorts, host.QueueKey()),
		jobs.ID(jobs.ExposeDatabasePorts, database.ID),
		jobs.ExposeDatabasePortsPayload{
			ServicePayload: jobs.ServicePayload{
				ServiceID: database.ID,
				HostID:    host.ID,
			},
		},
		&queue.EnqueueOptions{Channel: channel},
	)
	if err != nil {
		return err
	}
	return queue.AwaitCompletion(ctx, handle, &w.await)
}

// session is the state every host operation handler starts from.
type session struct {
	service  core.Service
	host     core.Host
	ops      platform.Operations
	reporter *events.Reporter
	out      *events.Streams
}

func (s *session) close() {
	s.out.Flush()
	s.ops.Close() // nolint: errcheck
}

// open loads the Service and Host named by the payload and connects to the
// Host, streaming its output to the job's channel.
func (w *Workers) open(
	ctx context.Context,
	job queue.Job,
	payload jobs.ServicePayload,
) (*session, error) {
	service, err := w.stores.Services.Get(ctx, payload.ServiceID)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading service %q", payload.ServiceID)
	}
	host, err := w.stores.Hosts.Get(ctx, payload.HostID)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading host %q", payload.HostID)
	}
	channel := job.Channel
	if channel == "" {
		channel = events.JobChannel(job.Queue, job.ID)
	}
	reporter := events.NewReporter(w.bus, channel)
	out := events.NewStreams(ctx, reporter)
	ops, err := w.dialer.Dial(
		ctx,
		host.Target(),
		remote.ExecOptions{
			OnStdout: out.Stdout.WriteChunk,
			OnStderr: out.Stderr.WriteChunk,
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to host %q", host.Name)
	}
	return &session{
		service:  service,
		host:     host,
		ops:      ops,
		reporter: reporter,
		out:      out,
	}, nil
}

func (w *Workers) setVariables(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.SetVariablesPayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	s, err := w.open(ctx, job, payload.ServicePayload)
	if err != nil {
		return nil, err
	}
	defer s.close()
	req := variables.Request{
		Service:     s.service,
		Host:        s.host,
		Ops:         s.ops,
		Reporter:    s.reporter,
		AllowExpose: payload.AllowExpose,
	}
	resolution, err := w.engine.Resolve(ctx, req, s.service.Variables)
	if err != nil {
		return nil, err
	}
	if _, err = w.engine.Apply(ctx, req, resolution); err != nil {
		return nil, err
	}
	s.reporter.Info(
		ctx,
		"Set %d variable(s) of %s",
		len(resolution.Resolved),
		s.service.Name,
	)
	return resolution, nil
}

func (w *Workers) deployApp(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.DeployAppPayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	s, err := w.open(ctx, job, payload.ServicePayload)
	if err != nil {
		return nil, err
	}
	defer s.close()
	details := s.service.Details.App
	if details == nil {
		return nil, errors.Errorf("service %q has no app details", s.service.Name)
	}
	app := s.service.Name
	if err = s.ops.ClearBuildArgs(ctx, app); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.service.PopulatedVariables))
	for key := range s.service.PopulatedVariables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := platform.Literal(s.service.PopulatedVariables[key])
		if s.service.IsDeferred(key) {
			value = platform.Deferred(s.service.PopulatedVariables[key])
		}
		if err = s.ops.AddBuildArg(ctx, app, key, value); err != nil {
			return nil, err
		}
	}
	s.reporter.Info(ctx, "Building %s from %s", app, details.Repository)
	return nil, s.ops.SyncGit(ctx, app, details.Repository, details.Branch)
}

func (w *Workers) deployDocker(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.DeployDockerPayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	s, err := w.open(ctx, job, payload.ServicePayload)
	if err != nil {
		return nil, err
	}
	defer s.close()
	details := s.service.Details.Docker
	if details == nil {
		return nil, errors.Errorf("service %q has no docker details", s.service.Name)
	}
	app := s.service.Name
	if details.Registry != nil {
		if err = s.ops.RegistryLogin(
			ctx,
			details.Registry.Server,
			details.Registry.Username,
			details.Registry.Password,
		); err != nil {
			return nil, err
		}
	}
	if details.Port > 0 && details.ContainerPort > 0 {
		if err = s.ops.SetPorts(
			ctx,
			app,
			platform.PortMapping{
				Scheme:        "http",
				HostPort:      details.Port,
				ContainerPort: details.ContainerPort,
			},
		); err != nil {
			return nil, err
		}
	}
	s.reporter.Info(ctx, "Deploying image %s to %s", details.Image, app)
	return nil, s.ops.DeployImage(ctx, app, details.Image)
}

// DatabaseResult is the result of a create-database job.
type DatabaseResult struct {
	Created bool `json:"created"`
}

func (w *Workers) createDatabase(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.CreateDatabasePayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	s, err := w.open(ctx, job, payload.ServicePayload)
	if err != nil {
		return nil, err
	}
	defer s.close()
	engine := s.service.Engine()
	if engine == "" {
		return nil, errors.Errorf(
			"service %q has no database engine",
			s.service.Name,
		)
	}
	exists, err := s.ops.DatabaseExists(ctx, engine, s.service.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		s.reporter.Info(ctx, "Database %s already exists", s.service.Name)
		return DatabaseResult{}, nil
	}
	s.reporter.Info(ctx, "Creating %s database %s", engine, s.service.Name)
	if err = s.ops.CreateDatabase(ctx, engine, s.service.Name); err != nil {
		return nil, err
	}
	return DatabaseResult{Created: true}, nil
}

// PortsResult is the result of an expose-database-ports job.
type PortsResult struct {
	Ports []int `json:"ports"`
}

func (w *Workers) exposeDatabasePorts(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.ExposeDatabasePortsPayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	s, err := w.open(ctx, job, payload.ServicePayload)
	if err != nil {
		return nil, err
	}
	defer s.close()
	if s.service.Type != core.ServiceTypeDatabase {
		return nil, errors.Errorf("service %q is not a database", s.service.Name)
	}
	ports, err := variables.ExposeExclusively(
		ctx,
		s.ops,
		s.service.Engine(),
		s.service.Name,
		payload.Ports...,
	)
	if err != nil {
		return nil, err
	}
	s.reporter.Info(ctx, "Exposed %s on port(s) %v", s.service.Name, ports)
	return PortsResult{Ports: ports}, nil
}

func (w *Workers) deployTemplate(
	ctx context.Context,
	job queue.Job,
) (interface{}, error) {
	payload := jobs.DeployTemplatePayload{}
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	result, err := w.deployer.DeployTemplate(ctx, payload.TemplateID, payload.HostID)
	if err != nil {
		return nil, err
	}
	return result, nil
}
