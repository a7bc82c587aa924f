package workers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/core/memory"
	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/jobs"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/pipeline"
	"github.com/krancour/hoist/internal/platform"
	"github.com/krancour/hoist/internal/platform/platformtest"
	"github.com/krancour/hoist/internal/queue"
	qmemory "github.com/krancour/hoist/internal/queue/memory"
	"github.com/krancour/hoist/internal/workers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testChannel = "deployments/test"

var testAwaitOptions = &queue.AwaitOptions{
	PollInterval: 10 * time.Millisecond,
	MaxAttempts:  500,
}

type harness struct {
	stores   core.Stores
	platform *platformtest.Platform
	fakeHost *platformtest.Host
	bus      events.Bus
	registry *queue.Registry
	host     core.Host
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		stores:   memory.NewStores(),
		platform: platformtest.New(),
		bus:      events.NewMemoryBus(nil),
		host: core.Host{
			ObjectMeta: meta.ObjectMeta{ID: "host-1"},
			Name:       "edge",
			TenantSlug: "acme",
			Address:    "203.0.113.10",
		},
	}
	h.fakeHost = h.platform.Host(h.host.Address)
	require.NoError(t, h.stores.Hosts.Create(context.Background(), h.host))
	h.registry = queue.NewRegistry(
		qmemory.NewBackend(),
		h.bus,
		&queue.RegistryOptions{
			IdlePause:         5 * time.Millisecond,
			DiscoveryInterval: 10 * time.Millisecond,
		},
		nil,
	)
	orchestrator := pipeline.NewOrchestrator(
		h.stores,
		h.platform,
		h.registry,
		h.bus,
		&pipeline.Options{
			PollInterval: 10 * time.Millisecond,
			MaxAttempts:  500,
		},
		nil,
	)
	workers.New(
		workers.Config{
			PollInterval:        10 * time.Millisecond,
			PollMaxAttempts:     500,
			TemplateConcurrency: 1,
		},
		h.stores,
		h.platform,
		h.bus,
		h.registry,
		orchestrator,
		nil,
		nil,
	).Register()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.registry.Run(ctx) // nolint: errcheck
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) createService(t *testing.T, service core.Service) {
	service.ProjectID = "proj-1"
	service.TenantSlug = "acme"
	require.NoError(t, h.stores.Services.Create(context.Background(), service))
}

// run enqueues the operation for the Service on the test host, waits for it,
// and returns the finished job.
func (h *harness) run(
	t *testing.T,
	operation string,
	serviceID string,
	payload interface{},
) (queue.Job, error) {
	ctx := context.Background()
	handle, err := h.registry.Enqueue(
		ctx,
		jobs.HostQueue(operation, h.host.QueueKey()),
		jobs.ID(operation, serviceID),
		payload,
		&queue.EnqueueOptions{Channel: testChannel},
	)
	require.NoError(t, err)
	awaitErr := queue.AwaitCompletion(ctx, handle, testAwaitOptions)
	job, err := handle.Job(ctx)
	require.NoError(t, err)
	return job, awaitErr
}

func (h *harness) payload(serviceID string) jobs.ServicePayload {
	return jobs.ServicePayload{
		ServiceID: serviceID,
		HostID:    h.host.ID,
	}
}

func TestCreateDatabase(t *testing.T) {
	h := newHarness(t)
	h.createService(t, core.Service{
		ObjectMeta: meta.ObjectMeta{ID: "db-id"},
		Type:       core.ServiceTypeDatabase,
		Name:       "orders-db",
		Details: core.ServiceDetails{
			Database: &core.DatabaseDetails{Engine: "postgres"},
		},
	})
	payload := jobs.CreateDatabasePayload{
		ServicePayload: h.payload("db-id"),
		Name:           "orders-db",
		Engine:         "postgres",
	}

	job, err := h.run(t, jobs.CreateDatabase, "db-id", payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"created":true}`, string(job.Result))
	db, ok := h.fakeHost.Database("orders-db")
	require.True(t, ok)
	require.Equal(t, "postgres", db.Engine)

	// A second run finds the database already there
	job, err = h.run(t, jobs.CreateDatabase, "db-id", payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"created":false}`, string(job.Result))
	require.Equal(t, 1, h.fakeHost.CallsTo("CreateDatabase"))

	messages, err := h.bus.Recent(context.Background(), testChannel, 0)
	require.NoError(t, err)
	require.Contains(t, messages, events.OutputPrefix+"running CreateDatabase")
}

func TestDeployApp(t *testing.T) {
	h := newHarness(t)
	h.fakeHost.AddApp(
		"web",
		map[string]string{"ORDERS_DB_URL": "postgres://u:p@db:5432/orders"},
	)
	h.createService(t, core.Service{
		ObjectMeta: meta.ObjectMeta{ID: "web-id"},
		Type:       core.ServiceTypeApp,
		Name:       "web",
		PopulatedVariables: map[string]string{
			"MODE":         "production",
			"DATABASE_URI": platform.DeferredConfigValue("web", "ORDERS_DB_URL"),
		},
		DeferredVariables: []string{"DATABASE_URI"},
		Details: core.ServiceDetails{
			App: &core.AppDetails{
				Repository: "https://github.com/example/shop.git",
				Branch:     "main",
			},
		},
	})

	_, err := h.run(
		t,
		jobs.DeployApp,
		"web-id",
		jobs.DeployAppPayload{ServicePayload: h.payload("web-id")},
	)
	require.NoError(t, err)

	app, ok := h.fakeHost.App("web")
	require.True(t, ok)
	require.Equal(
		t,
		map[string]string{
			"MODE":         "production",
			"DATABASE_URI": "postgres://u:p@db:5432/orders",
		},
		app.BuildArgs,
	)
	require.Equal(t, "https://github.com/example/shop.git#main", app.Source)
	require.Equal(t, 1, app.Deploys)
	require.Equal(t, 1, h.fakeHost.CallsTo("ClearBuildArgs"))
}

func TestDeployDocker(t *testing.T) {
	testCases := []struct {
		name       string
		setup      func(*platformtest.Host)
		assertions func(*testing.T, *platformtest.Host, queue.Job, error)
	}{
		{
			name: "success",
			assertions: func(
				t *testing.T,
				host *platformtest.Host,
				_ queue.Job,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, "bot", host.Registry["registry.example.com"])
				app, ok := host.App("api")
				require.True(t, ok)
				require.Equal(
					t,
					[]platform.PortMapping{
						{Scheme: "http", HostPort: 80, ContainerPort: 8080},
					},
					app.Ports,
				)
				require.Equal(t, "registry.example.com/acme/api:1.2.3", app.Source)
			},
		},
		{
			name: "deploy fails",
			setup: func(host *platformtest.Host) {
				host.FailOn("DeployImage", nil)
			},
			assertions: func(
				t *testing.T,
				_ *platformtest.Host,
				job queue.Job,
				err error,
			) {
				require.Error(t, err)
				jobErr, ok := errors.Cause(err).(*queue.ErrJob)
				require.True(t, ok)
				require.Equal(t, queue.StateFailed, jobErr.State)
				require.Equal(t, queue.StateFailed, job.State)
				require.Contains(t, job.Error, "DeployImage failed")
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			h := newHarness(t)
			h.fakeHost.AddApp("api", nil)
			if testCase.setup != nil {
				testCase.setup(h.fakeHost)
			}
			h.createService(t, core.Service{
				ObjectMeta: meta.ObjectMeta{ID: "api-id"},
				Type:       core.ServiceTypeDocker,
				Name:       "api",
				Details: core.ServiceDetails{
					Docker: &core.DockerDetails{
						Image: "registry.example.com/acme/api:1.2.3",
						Registry: &core.RegistryCredentials{
							Server:   "registry.example.com",
							Username: "bot",
							Password: "hunter2",
						},
						Port:          80,
						ContainerPort: 8080,
					},
				},
			})
			job, err := h.run(
				t,
				jobs.DeployDocker,
				"api-id",
				jobs.DeployDockerPayload{ServicePayload: h.payload("api-id")},
			)
			testCase.assertions(t, h.fakeHost, job, err)
		})
	}
}

func TestExposeDatabasePorts(t *testing.T) {
	h := newHarness(t)
	h.fakeHost.AddDatabase("postgres", "orders-db", "postgres://u:p@db:5432/orders")
	h.createService(t, core.Service{
		ObjectMeta: meta.ObjectMeta{ID: "db-id"},
		Type:       core.ServiceTypeDatabase,
		Name:       "orders-db",
		Details: core.ServiceDetails{
			Database: &core.DatabaseDetails{Engine: "postgres"},
		},
	})
	for _, ports := range [][]int{{30500}, {31000, 31001}} {
		job, err := h.run(
			t,
			jobs.ExposeDatabasePorts,
			"db-id",
			jobs.ExposeDatabasePortsPayload{
				ServicePayload: h.payload("db-id"),
				Ports:          ports,
			},
		)
		require.NoError(t, err)
		result := workers.PortsResult{}
		require.NoError(t, json.Unmarshal(job.Result, &result))
		require.Equal(t, ports, result.Ports)
		db, ok := h.fakeHost.Database("orders-db")
		require.True(t, ok)
		require.Equal(t, ports, db.ExposedPorts)
	}
}

func TestSetVariablesExposesOnDemand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fakeHost.AddApp("reports", nil)
	h.fakeHost.AddDatabase("postgres", "orders-db", "postgres://u:p@db:5432/orders")
	h.createService(t, core.Service{
		ObjectMeta: meta.ObjectMeta{ID: "db-id"},
		Type:       core.ServiceTypeDatabase,
		Name:       "orders-db",
		Details: core.ServiceDetails{
			Database: &core.DatabaseDetails{Engine: "postgres"},
		},
	})
	h.createService(t, core.Service{
		ObjectMeta: meta.ObjectMeta{ID: "reports-id"},
		Type:       core.ServiceTypeApp,
		Name:       "reports",
		Variables: []core.Variable{
			{Key: "ORDERS", Expression: "{{ orders-db.PUBLIC_DATABASE_URI }}"},
		},
		Details: core.ServiceDetails{
			App: &core.AppDetails{Repository: "https://github.com/example/reports.git"},
		},
	})
	require.NoError(t, h.stores.Deployments.Create(ctx, core.Deployment{
		ObjectMeta: meta.ObjectMeta{ID: "dep-0"},
		ServiceID:  "db-id",
		Status:     core.DeploymentStatusBuilding,
	}))
	require.NoError(t, h.stores.Deployments.Finish(
		ctx,
		"dep-0",
		core.DeploymentStatusSuccess,
		nil,
		"",
	))

	_, err := h.run(
		t,
		jobs.SetVariables,
		"reports-id",
		jobs.SetVariablesPayload{
			ServicePayload: h.payload("reports-id"),
			AllowExpose:    true,
		},
	)
	require.NoError(t, err)
	require.Equal(t, 1, h.fakeHost.CallsTo("ExposeDatabase"))
	app, ok := h.fakeHost.App("reports")
	require.True(t, ok)
	require.Equal(t, "postgres://u:p@203.0.113.10:30001/orders", app.Config["ORDERS"])
	service, err := h.stores.Services.Get(ctx, "reports-id")
	require.NoError(t, err)
	require.Equal(t, app.Config, service.PopulatedVariables)
}

func TestDeployTemplateJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.stores.Templates.Create(ctx, core.Template{
		ObjectMeta: meta.ObjectMeta{ID: "tmpl-1"},
		Name:       "cache",
		TenantSlug: "acme",
		Services: []core.TemplateService{
			{
				Name: "sessions",
				Type: core.ServiceTypeDatabase,
				Details: core.ServiceDetails{
					Database: &core.DatabaseDetails{Engine: "redis"},
				},
			},
		},
	}))
	handle, err := h.registry.Enqueue(
		ctx,
		jobs.DeployTemplate,
		jobs.ID(jobs.DeployTemplate, "tmpl-1"),
		jobs.DeployTemplatePayload{TemplateID: "tmpl-1", HostID: h.host.ID},
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, queue.AwaitCompletion(ctx, handle, testAwaitOptions))
	job, err := handle.Job(ctx)
	require.NoError(t, err)
	result := pipeline.Result{}
	require.NoError(t, json.Unmarshal(job.Result, &result))
	require.Equal(t, pipeline.StatePipelineComplete, result.State)
	require.Len(t, result.Services, 1)
	require.Equal(t, core.DeploymentStatusSuccess, result.Services[0].Status)
	_, ok := h.fakeHost.Database("sessions")
	require.True(t, ok)
}
