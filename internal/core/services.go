package core

import (
	"context"

	"github.com/krancour/hoist/internal/meta"
)

// ServiceType represents the kind of workload a Service is.
type ServiceType string

const (
	// ServiceTypeApp represents a Service built from a git repository.
	ServiceTypeApp ServiceType = "app"
	// ServiceTypeDocker represents a Service deployed from a container image.
	ServiceTypeDocker ServiceType = "docker"
	// ServiceTypeDatabase represents a database Service.
	ServiceTypeDatabase ServiceType = "database"
)

// Variable is an environment variable whose value is given by an expression.
// Expressions may be literal text or may contain a {{ ... }} marker calling a
// function or referencing another Service's variable.
type Variable struct {
	Key        string `json:"key" bson:"key"`
	Expression string `json:"expression" bson:"expression"`
}

// AppDetails are the details specific to Services of type app.
type AppDetails struct {
	Repository string `json:"repository" bson:"repository"`
	Branch     string `json:"branch,omitempty" bson:"branch,omitempty"`
}

// RegistryCredentials are credentials for a private container registry.
type RegistryCredentials struct {
	Server   string `json:"server" bson:"server"`
	Username string `json:"username" bson:"username"`
	Password string `json:"password" bson:"password"`
}

// DockerDetails are the details specific to Services of type docker.
type DockerDetails struct {
	Image         string               `json:"image" bson:"image"`
	Registry      *RegistryCredentials `json:"registry,omitempty" bson:"registry,omitempty"`
	Port          int                  `json:"port,omitempty" bson:"port,omitempty"`
	ContainerPort int                  `json:"containerPort,omitempty" bson:"containerPort,omitempty"`
}

// DatabaseDetails are the details specific to Services of type database.
type DatabaseDetails struct {
	// Engine is the database engine, e.g. postgres, mysql, mongo, or redis.
	Engine string `json:"engine" bson:"engine"`
}

// ServiceDetails carries the type-specific details of a Service. Exactly one
// field is set, matching the Service's type.
type ServiceDetails struct {
	App      *AppDetails      `json:"app,omitempty" bson:"app,omitempty"`
	Docker   *DockerDetails   `json:"docker,omitempty" bson:"docker,omitempty"`
	Database *DatabaseDetails `json:"database,omitempty" bson:"database,omitempty"`
}

// Service is a single deployable unit within a Project. On the remote host, a
// Service of type app or docker is an app and a Service of type database is a
// database service, in either case bearing the Service's name.
type Service struct {
	meta.ObjectMeta `json:"metadata" bson:"metadata"`
	ProjectID       string      `json:"projectID" bson:"projectID"`
	TenantSlug      string      `json:"tenantSlug" bson:"tenantSlug"`
	Type            ServiceType `json:"type" bson:"type"`
	Name            string      `json:"name" bson:"name"`
	Variables       []Variable  `json:"variables,omitempty" bson:"variables,omitempty"`
	// PopulatedVariables is a snapshot of the Service's remote configuration
	// taken after the last successful resolution pass.
	PopulatedVariables map[string]string `json:"populatedVariables,omitempty" bson:"populatedVariables,omitempty"`
	// DeferredVariables lists the keys of PopulatedVariables whose snapshot
	// value is a command the remote host evaluates rather than a literal.
	DeferredVariables []string       `json:"deferredVariables,omitempty" bson:"deferredVariables,omitempty"`
	Details           ServiceDetails `json:"details" bson:"details"`
}

// IsDeferred returns true if the named populated variable is deferred.
func (s Service) IsDeferred(key string) bool {
	for _, k := range s.DeferredVariables {
		if k == key {
			return true
		}
	}
	return false
}

// Engine returns the database engine of a database Service and an empty
// string otherwise.
func (s Service) Engine() string {
	if s.Details.Database == nil {
		return ""
	}
	return s.Details.Database.Engine
}

// ServicesStore is an interface for components that implement Service
// persistence concerns.
type ServicesStore interface {
	// Create persists a new Service.
	Create(context.Context, Service) error
	// Get retrieves a Service by ID.
	Get(ctx context.Context, id string) (Service, error)
	// GetByName retrieves a Service by name within a Project.
	GetByName(ctx context.Context, projectID string, name string) (Service, error)
	// ListByProject returns a Project's Services in creation order.
	ListByProject(ctx context.Context, projectID string) ([]Service, error)
	// ExistsByName returns true if the tenant already has a Service with the
	// specified name.
	ExistsByName(ctx context.Context, tenantSlug string, name string) (bool, error)
	// UpdatePopulatedVariables replaces a Service's snapshot of resolved
	// variables.
	UpdatePopulatedVariables(
		ctx context.Context,
		id string,
		populated map[string]string,
		deferred []string,
	) error
}
