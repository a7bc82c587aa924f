package core

import (
	"context"

	"github.com/krancour/hoist/internal/meta"
)

// Project groups the Services deployed together from a single Template onto a
// single Host.
type Project struct {
	meta.ObjectMeta `json:"metadata" bson:"metadata"`
	Name            string `json:"name" bson:"name"`
	TenantSlug      string `json:"tenantSlug" bson:"tenantSlug"`
	TemplateID      string `json:"templateID,omitempty" bson:"templateID,omitempty"`
	HostID          string `json:"hostID" bson:"hostID"`
}

// ProjectsStore is an interface for components that implement Project
// persistence concerns.
type ProjectsStore interface {
	// Create persists a new Project.
	Create(context.Context, Project) error
	// Get retrieves a Project by ID. A *meta.ErrNotFound is returned if no
	// such Project exists.
	Get(ctx context.Context, id string) (Project, error)
	// ExistsByName returns true if the tenant already has a Project with the
	// specified name.
	ExistsByName(ctx context.Context, tenantSlug string, name string) (bool, error)
}
