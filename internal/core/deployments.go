package core

import (
	"context"
	"time"

	"github.com/krancour/hoist/internal/meta"
)

// DeploymentStatus represents the outcome of a Deployment.
type DeploymentStatus string

const (
	// DeploymentStatusBuilding represents a Deployment still in progress.
	DeploymentStatusBuilding DeploymentStatus = "building"
	// DeploymentStatusSuccess represents a Deployment that succeeded.
	DeploymentStatusSuccess DeploymentStatus = "success"
	// DeploymentStatusFailed represents a Deployment that failed.
	DeploymentStatusFailed DeploymentStatus = "failed"
)

// Deployment is a single attempt at deploying a Service. Its status moves
// from building to exactly one terminal status, once.
type Deployment struct {
	meta.ObjectMeta `json:"metadata" bson:"metadata"`
	ServiceID       string           `json:"serviceID" bson:"serviceID"`
	ProjectID       string           `json:"projectID" bson:"projectID"`
	Status          DeploymentStatus `json:"status" bson:"status"`
	// Logs are the messages published on the Deployment's channel while it was
	// building, in order.
	Logs     []string   `json:"logs,omitempty" bson:"logs,omitempty"`
	Error    string     `json:"error,omitempty" bson:"error,omitempty"`
	Finished *time.Time `json:"finished,omitempty" bson:"finished,omitempty"`
}

// DeploymentsStore is an interface for components that implement Deployment
// persistence concerns.
type DeploymentsStore interface {
	// Create persists a new Deployment.
	Create(context.Context, Deployment) error
	// Get retrieves a Deployment by ID.
	Get(ctx context.Context, id string) (Deployment, error)
	// ListByService returns a Service's Deployments in creation order.
	ListByService(ctx context.Context, serviceID string) ([]Deployment, error)
	// CountByServiceAndStatus counts a Service's Deployments having the
	// specified status.
	CountByServiceAndStatus(
		ctx context.Context,
		serviceID string,
		status DeploymentStatus,
	) (int64, error)
	// Finish transitions a building Deployment to the specified terminal status,
	// recording its logs and error message. A *meta.ErrConflict is returned if
	// the Deployment is no longer building.
	Finish(
		ctx context.Context,
		id string,
		status DeploymentStatus,
		logs []string,
		errMsg string,
	) error
}
