package pipeline

import (
	"context"
	"time"

	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/jobs"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/platform"
	"github.com/krancour/hoist/internal/queue"
	"github.com/krancour/hoist/internal/remote"
	"github.com/krancour/hoist/internal/variables"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"
)

// State is the progress of a single pipeline run.
type State string

const (
	StateCreated          State = "created"
	StateProjectCreated   State = "project-created"
	StateServicesCreated  State = "services-created"
	StatePipelineComplete State = "pipeline-complete"
	StatePipelineAborted  State = "pipeline-aborted"
)

// Enqueuer is the interface for components that enqueue jobs on named queues.
// *queue.Registry implements it.
type Enqueuer interface {
	Enqueue(
		ctx context.Context,
		queueName string,
		jobID string,
		payload interface{},
		opts *queue.EnqueueOptions,
	) (queue.Handle, error)
}

// ServiceOutcome is what became of one Service in a pipeline run.
type ServiceOutcome struct {
	ServiceID    string                `json:"serviceID"`
	Name         string                `json:"name"`
	Type         core.ServiceType      `json:"type"`
	DeploymentID string                `json:"deploymentID,omitempty"`
	Status       core.DeploymentStatus `json:"status,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Result summarizes a pipeline run. Services that were never deployed because
// an earlier one failed have no DeploymentID.
type Result struct {
	State       State            `json:"state"`
	ProjectID   string           `json:"projectID,omitempty"`
	ProjectName string           `json:"projectName,omitempty"`
	Services    []ServiceOutcome `json:"services,omitempty"`
}

// Options represents configuration options for the Orchestrator.
type Options struct {
	// PollInterval is the delay between polls of an awaited job.
	PollInterval time.Duration
	// MaxAttempts bounds the polls of any one job.
	MaxAttempts int
	// Clock is used for sleeping between polls.
	Clock clock.Clock
}

// Orchestrator deploys every Service described by a Template onto a Host, one
// Service at a time, in declaration order.
type Orchestrator struct {
	stores   core.Stores
	dialer   platform.Dialer
	enqueuer Enqueuer
	bus      events.Bus
	await    queue.AwaitOptions
	logger   *logrus.Entry
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(
	stores core.Stores,
	dialer platform.Dialer,
	enqueuer Enqueuer,
	bus events.Bus,
	options *Options,
	logger *logrus.Entry,
) *Orchestrator {
	if options == nil {
		options = &Options{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		stores:   stores,
		dialer:   dialer,
		enqueuer: enqueuer,
		bus:      bus,
		await: queue.AwaitOptions{
			PollInterval: options.PollInterval,
			MaxAttempts:  options.MaxAttempts,
			Clock:        options.Clock,
			Logger:       logger,
		},
		logger: logger,
	}
}

// DeployTemplate creates a Project and its Services from the specified
// Template and deploys them onto the specified Host. The first Service that
// fails to deploy ends the run with an *ErrPipelineAbort. Work already done is
// not undone. The returned Result describes the run however far it got.
func (o *Orchestrator) DeployTemplate(
	ctx context.Context,
	templateID string,
	hostID string,
) (Result, error) {
	result := Result{State: StateCreated}
	template, err := o.stores.Templates.Get(ctx, templateID)
	if err != nil {
		return result, errors.Wrapf(err, "error loading template %q", templateID)
	}
	if err = template.Validate(); err != nil {
		return result, err
	}
	host, err := o.stores.Hosts.Get(ctx, hostID)
	if err != nil {
		return result, errors.Wrapf(err, "error loading host %q", hostID)
	}
	logger := o.logger.WithFields(logrus.Fields{
		"template": template.ID,
		"host":     host.ID,
	})

	project, err := o.createProject(ctx, template, host)
	if err != nil {
		return result, err
	}
	result.State = StateProjectCreated
	result.ProjectID = project.ID
	result.ProjectName = project.Name
	logger = logger.WithField("project", project.Name)
	logger.Info("created project")

	services, err := o.createServices(ctx, template, project)
	if err != nil {
		return result, err
	}
	result.State = StateServicesCreated
	for _, service := range services {
		result.Services = append(result.Services, ServiceOutcome{
			ServiceID: service.ID,
			Name:      service.Name,
			Type:      service.Type,
		})
	}
	events.PublishRefresh(ctx, o.bus, project.TenantSlug)

	for i, service := range services {
		outcome := &result.Services[i]
		if err = o.deployService(ctx, host, service, outcome); err != nil {
			result.State = StatePipelineAborted
			logger.WithField("service", service.Name).WithError(err).
				Error("pipeline aborted")
			events.PublishRefresh(ctx, o.bus, project.TenantSlug)
			return result, err
		}
	}
	result.State = StatePipelineComplete
	logger.Info("pipeline complete")
	events.PublishRefresh(ctx, o.bus, project.TenantSlug)
	return result, nil
}

func (o *Orchestrator) createProject(
	ctx context.Context,
	template core.Template,
	host core.Host,
) (core.Project, error) {
	name, err := core.UniqueName(
		ctx,
		template.Name,
		func(ctx context.Context, name string) (bool, error) {
			return o.stores.Projects.ExistsByName(ctx, template.TenantSlug, name)
		},
	)
	if err != nil {
		return core.Project{}, errors.Wrap(err, "error naming project")
	}
	now := time.Now().UTC()
	project := core.Project{
		ObjectMeta: meta.ObjectMeta{
			ID:      uuid.NewV4().String(),
			Created: &now,
		},
		Name:       name,
		TenantSlug: template.TenantSlug,
		TemplateID: template.ID,
		HostID:     host.ID,
	}
	if err = o.stores.Projects.Create(ctx, project); err != nil {
		return core.Project{}, errors.Wrapf(
			err,
			"error creating project %q",
			project.Name,
		)
	}
	return project, nil
}

// createServices creates one Service per Template Service, each under a name
// no other Service of the tenant bears, and rewrites references between them
// to use the new names.
func (o *Orchestrator) createServices(
	ctx context.Context,
	template core.Template,
	project core.Project,
) ([]core.Service, error) {
	names := map[string]string{}
	used := map[string]struct{}{}
	for _, ts := range template.Services {
		name, err := core.UniqueName(
			ctx,
			ts.Name,
			func(ctx context.Context, name string) (bool, error) {
				if _, ok := used[name]; ok {
					return true, nil
				}
				return o.stores.Services.ExistsByName(ctx, project.TenantSlug, name)
			},
		)
		if err != nil {
			return nil, errors.Wrapf(err, "error naming service %q", ts.Name)
		}
		names[ts.Name] = name
		used[name] = struct{}{}
	}
	services := make([]core.Service, 0, len(template.Services))
	for _, ts := range template.Services {
		vars := make([]core.Variable, 0, len(ts.Variables))
		for _, v := range ts.Variables {
			vars = append(vars, core.Variable{
				Key:        v.Key,
				Expression: variables.RenameReferences(v.Expression, names),
			})
		}
		now := time.Now().UTC()
		service := core.Service{
			ObjectMeta: meta.ObjectMeta{
				ID:      uuid.NewV4().String(),
				Created: &now,
			},
			ProjectID:  project.ID,
			TenantSlug: project.TenantSlug,
			Type:       ts.Type,
			Name:       names[ts.Name],
			Variables:  vars,
			Details:    ts.Details,
		}
		if err := o.stores.Services.Create(ctx, service); err != nil {
			return nil, errors.Wrapf(
				err,
				"error creating service %q",
				service.Name,
			)
		}
		services = append(services, service)
	}
	return services, nil
}

// deployService runs every step of one Service's Deployment and records the
// Deployment's outcome. A failed step is returned as an *ErrPipelineAbort.
func (o *Orchestrator) deployService(
	ctx context.Context,
	host core.Host,
	service core.Service,
	outcome *ServiceOutcome,
) error {
	now := time.Now().UTC()
	deployment := core.Deployment{
		ObjectMeta: meta.ObjectMeta{
			ID:      uuid.NewV4().String(),
			Created: &now,
		},
		ServiceID: service.ID,
		ProjectID: service.ProjectID,
		Status:    core.DeploymentStatusBuilding,
	}
	if err := o.stores.Deployments.Create(ctx, deployment); err != nil {
		return &ErrPipelineAbort{
			ProjectID: service.ProjectID,
			Service:   service.Name,
			Step:      "create-deployment",
			Err:       err,
		}
	}
	outcome.DeploymentID = deployment.ID
	outcome.Status = core.DeploymentStatusBuilding

	channel := events.DeploymentChannel(deployment.ID)
	reporter := events.NewReporter(o.bus, channel)
	reporter.Info(ctx, "Deploying %s service %s", service.Type, service.Name)

	step, err := o.runSteps(ctx, host, service, deployment, reporter)
	if err != nil {
		reporter.Fail(ctx, "Deployment of %s failed: %s", service.Name, err)
		logs, logErr := o.bus.Recent(ctx, channel, 0)
		if logErr != nil {
			o.logger.WithError(logErr).Warn("error reading deployment logs")
		}
		if finErr := o.stores.Deployments.Finish(
			ctx,
			deployment.ID,
			core.DeploymentStatusFailed,
			logs,
			err.Error(),
		); finErr != nil {
			o.logger.WithError(finErr).Error("error recording failed deployment")
		}
		outcome.Status = core.DeploymentStatusFailed
		outcome.Error = err.Error()
		return &ErrPipelineAbort{
			ProjectID: service.ProjectID,
			Service:   service.Name,
			Step:      step,
			Err:       err,
		}
	}

	reporter.Info(ctx, "Deployment of %s succeeded", service.Name)
	logs, err := o.bus.Recent(ctx, channel, 0)
	if err != nil {
		o.logger.WithError(err).Warn("error reading deployment logs")
	}
	if err = o.stores.Deployments.Finish(
		ctx,
		deployment.ID,
		core.DeploymentStatusSuccess,
		logs,
		"",
	); err != nil {
		return &ErrPipelineAbort{
			ProjectID: service.ProjectID,
			Service:   service.Name,
			Step:      "finish-deployment",
			Err:       err,
		}
	}
	outcome.Status = core.DeploymentStatusSuccess
	return nil
}

// runSteps returns the name of the step that failed, if any, along with its
// error.
func (o *Orchestrator) runSteps(
	ctx context.Context,
	host core.Host,
	service core.Service,
	deployment core.Deployment,
	reporter *events.Reporter,
) (string, error) {
	if service.Type != core.ServiceTypeDatabase {
		if err := o.ensureApp(ctx, host, service, reporter); err != nil {
			return "create-app", err
		}
	}

	base := jobs.ServicePayload{
		ServiceID:    service.ID,
		HostID:       host.ID,
		DeploymentID: deployment.ID,
	}
	if len(service.Variables) > 0 {
		reporter.Info(ctx, "Setting variables of %s", service.Name)
		if err := o.run(
			ctx,
			jobs.SetVariables,
			host,
			service,
			jobs.SetVariablesPayload{ServicePayload: base, AllowExpose: true},
			reporter,
		); err != nil {
			return jobs.SetVariables, err
		}
		// Later steps see the snapshot the job just persisted.
		var err error
		if service, err = o.stores.Services.Get(ctx, service.ID); err != nil {
			return jobs.SetVariables, err
		}
	}

	var operation string
	var payload interface{}
	switch service.Type {
	case core.ServiceTypeApp:
		operation = jobs.DeployApp
		payload = jobs.DeployAppPayload{ServicePayload: base}
	case core.ServiceTypeDocker:
		operation = jobs.DeployDocker
		payload = jobs.DeployDockerPayload{ServicePayload: base}
	case core.ServiceTypeDatabase:
		operation = jobs.CreateDatabase
		payload = jobs.CreateDatabasePayload{
			ServicePayload: base,
			Name:           service.Name,
			Engine:         service.Engine(),
		}
	default:
		return "deploy", errors.Errorf("unrecognized service type %q", service.Type)
	}
	reporter.Info(ctx, "Running %s for %s", operation, service.Name)
	return operation, o.run(ctx, operation, host, service, payload, reporter)
}

func (o *Orchestrator) ensureApp(
	ctx context.Context,
	host core.Host,
	service core.Service,
	reporter *events.Reporter,
) error {
	out := events.NewStreams(ctx, reporter)
	defer out.Flush()
	ops, err := o.dialer.Dial(
		ctx,
		host.Target(),
		remote.ExecOptions{
			OnStdout: out.Stdout.WriteChunk,
			OnStderr: out.Stderr.WriteChunk,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "error connecting to host %q", host.Name)
	}
	defer ops.Close()
	exists, err := ops.AppExists(ctx, service.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	reporter.Info(ctx, "Creating app %s", service.Name)
	return errors.Wrapf(
		ops.CreateApp(ctx, service.Name),
		"error creating app %q",
		service.Name,
	)
}

// run enqueues the operation's job for the Service on the Host's queue and
// waits for it to finish.
func (o *Orchestrator) run(
	ctx context.Context,
	operation string,
	host core.Host,
	service core.Service,
	payload interface{},
	reporter *events.Reporter,
) error {
	handle, err := o.enqueuer.Enqueue(
		ctx,
		jobs.HostQueue(operation, host.QueueKey()),
		jobs.ID(operation, service.ID),
		payload,
		&queue.EnqueueOptions{Channel: reporter.Channel()},
	)
	if err != nil {
		return err
	}
	return queue.AwaitCompletion(ctx, handle, &o.await)
}
