// Package memory provides in-process implementations of hoist's stores. They
// are suitable for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/meta"
)

// NewStores returns a complete set of in-process stores.
func NewStores() core.Stores {
	return core.Stores{
		Projects:    NewProjectsStore(),
		Services:    NewServicesStore(),
		Deployments: NewDeploymentsStore(),
		Templates:   NewTemplatesStore(),
		Hosts:       NewHostsStore(),
	}
}

// created stamps the creation time of a new document, keeping a caller
// supplied time if there is one.
func created(objectMeta *meta.ObjectMeta) {
	if objectMeta.Created == nil {
		now := time.Now().UTC()
		objectMeta.Created = &now
	}
}

type projectsStore struct {
	mu       sync.RWMutex
	projects map[string]core.Project
}

// NewProjectsStore returns an in-process core.ProjectsStore.
func NewProjectsStore() core.ProjectsStore {
	return &projectsStore{
		projects: map[string]core.Project{},
	}
}

func (p *projectsStore) Create(_ context.Context, project core.Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.projects[project.ID]; ok {
		return &meta.ErrConflict{
			Type:   "Project",
			ID:     project.ID,
			Reason: "A project with this ID already exists.",
		}
	}
	created(&project.ObjectMeta)
	p.projects[project.ID] = project
	return nil
}

func (p *projectsStore) Get(_ context.Context, id string) (core.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	project, ok := p.projects[id]
	if !ok {
		return project, &meta.ErrNotFound{Type: "Project", ID: id}
	}
	return project, nil
}

func (p *projectsStore) ExistsByName(
	_ context.Context,
	tenantSlug string,
	name string,
) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, project := range p.projects {
		if project.TenantSlug == tenantSlug && project.Name == name {
			return true, nil
		}
	}
	return false, nil
}

type servicesStore struct {
	mu       sync.RWMutex
	services map[string]core.Service
	order    []string
}

// NewServicesStore returns an in-process core.ServicesStore.
func NewServicesStore() core.ServicesStore {
	return &servicesStore{
		services: map[string]core.Service{},
	}
}

func (s *servicesStore) Create(_ context.Context, service core.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[service.ID]; ok {
		return &meta.ErrConflict{
			Type:   "Service",
			ID:     service.ID,
			Reason: "A service with this ID already exists.",
		}
	}
	created(&service.ObjectMeta)
	s.services[service.ID] = service
	s.order = append(s.order, service.ID)
	return nil
}

func (s *servicesStore) Get(_ context.Context, id string) (core.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	service, ok := s.services[id]
	if !ok {
		return service, &meta.ErrNotFound{Type: "Service", ID: id}
	}
	return service, nil
}

func (s *servicesStore) GetByName(
	_ context.Context,
	projectID string,
	name string,
) (core.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, service := range s.services {
		if service.ProjectID == projectID && service.Name == name {
			return service, nil
		}
	}
	return core.Service{}, &meta.ErrNotFound{Type: "Service", ID: name}
}

func (s *servicesStore) ListByProject(
	_ context.Context,
	projectID string,
) ([]core.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	services := []core.Service{}
	for _, id := range s.order {
		if service := s.services[id]; service.ProjectID == projectID {
			services = append(services, service)
		}
	}
	return services, nil
}

func (s *servicesStore) ExistsByName(
	_ context.Context,
	tenantSlug string,
	name string,
) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, service := range s.services {
		if service.TenantSlug == tenantSlug && service.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *servicesStore) UpdatePopulatedVariables(
	_ context.Context,
	id string,
	populated map[string]string,
	deferred []string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[id]
	if !ok {
		return &meta.ErrNotFound{Type: "Service", ID: id}
	}
	service.PopulatedVariables = map[string]string{}
	for k, v := range populated {
		service.PopulatedVariables[k] = v
	}
	service.DeferredVariables = append([]string{}, deferred...)
	sort.Strings(service.DeferredVariables)
	s.services[id] = service
	return nil
}

type deploymentsStore struct {
	mu          sync.RWMutex
	deployments map[string]core.Deployment
	order       []string
}

// NewDeploymentsStore returns an in-process core.DeploymentsStore.
func NewDeploymentsStore() core.DeploymentsStore {
	return &deploymentsStore{
		deployments: map[string]core.Deployment{},
	}
}

func (d *deploymentsStore) Create(
	_ context.Context,
	deployment core.Deployment,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.deployments[deployment.ID]; ok {
		return &meta.ErrConflict{
			Type:   "Deployment",
			ID:     deployment.ID,
			Reason: "A deployment with this ID already exists.",
		}
	}
	created(&deployment.ObjectMeta)
	d.deployments[deployment.ID] = deployment
	d.order = append(d.order, deployment.ID)
	return nil
}

func (d *deploymentsStore) Get(
	_ context.Context,
	id string,
) (core.Deployment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	deployment, ok := d.deployments[id]
	if !ok {
		return deployment, &meta.ErrNotFound{Type: "Deployment", ID: id}
	}
	return deployment, nil
}

func (d *deploymentsStore) ListByService(
	_ context.Context,
	serviceID string,
) ([]core.Deployment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	deployments := []core.Deployment{}
	for _, id := range d.order {
		if deployment := d.deployments[id]; deployment.ServiceID == serviceID {
			deployments = append(deployments, deployment)
		}
	}
	return deployments, nil
}

func (d *deploymentsStore) CountByServiceAndStatus(
	_ context.Context,
	serviceID string,
	status core.DeploymentStatus,
) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var count int64
	for _, deployment := range d.deployments {
		if deployment.ServiceID == serviceID && deployment.Status == status {
			count++
		}
	}
	return count, nil
}

func (d *deploymentsStore) Finish(
	_ context.Context,
	id string,
	status core.DeploymentStatus,
	logs []string,
	errMsg string,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	deployment, ok := d.deployments[id]
	if !ok {
		return &meta.ErrNotFound{Type: "Deployment", ID: id}
	}
	if deployment.Status != core.DeploymentStatusBuilding {
		return &meta.ErrConflict{
			Type: "Deployment",
			ID:   id,
			Reason: "Deployment has already finished with status " +
				string(deployment.Status) + ".",
		}
	}
	now := time.Now().UTC()
	deployment.Status = status
	deployment.Logs = append([]string{}, logs...)
	deployment.Error = errMsg
	deployment.Finished = &now
	d.deployments[id] = deployment
	return nil
}

type templatesStore struct {
	mu        sync.RWMutex
	templates map[string]core.Template
}

// NewTemplatesStore returns an in-process core.TemplatesStore.
func NewTemplatesStore() core.TemplatesStore {
	return &templatesStore{
		templates: map[string]core.Template{},
	}
}

func (t *templatesStore) Create(_ context.Context, template core.Template) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.templates[template.ID]; ok {
		return &meta.ErrConflict{
			Type:   "Template",
			ID:     template.ID,
			Reason: "A template with this ID already exists.",
		}
	}
	created(&template.ObjectMeta)
	t.templates[template.ID] = template
	return nil
}

func (t *templatesStore) Get(_ context.Context, id string) (core.Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	template, ok := t.templates[id]
	if !ok {
		return template, &meta.ErrNotFound{Type: "Template", ID: id}
	}
	return template, nil
}

func (t *templatesStore) List(context.Context) ([]core.Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	templates := make([]core.Template, 0, len(t.templates))
	for _, template := range t.templates {
		templates = append(templates, template)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].ID < templates[j].ID
	})
	return templates, nil
}

type hostsStore struct {
	mu    sync.RWMutex
	hosts map[string]core.Host
}

// NewHostsStore returns an in-process core.HostsStore.
func NewHostsStore() core.HostsStore {
	return &hostsStore{
		hosts: map[string]core.Host{},
	}
}

func (h *hostsStore) Create(_ context.Context, host core.Host) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.hosts[host.ID]; ok {
		return &meta.ErrConflict{
			Type:   "Host",
			ID:     host.ID,
			Reason: "A host with this ID already exists.",
		}
	}
	created(&host.ObjectMeta)
	h.hosts[host.ID] = host
	return nil
}

func (h *hostsStore) Get(_ context.Context, id string) (core.Host, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	host, ok := h.hosts[id]
	if !ok {
		return host, &meta.ErrNotFound{Type: "Host", ID: id}
	}
	return host, nil
}

func (h *hostsStore) List(context.Context) ([]core.Host, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hosts := make([]core.Host, 0, len(h.hosts))
	for _, host := range h.hosts {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].ID < hosts[j].ID
	})
	return hosts, nil
}
