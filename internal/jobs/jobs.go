// Package jobs defines the operations hoist performs through its queues and
// the payloads those operations' jobs carry.
package jobs

import "github.com/krancour/hoist/internal/queue"

// Operation names. Every operation that mutates a remote host is routed to a
// queue keyed by that host.
const (
	SetVariables        = "set-variables"
	DeployApp           = "deploy-app"
	DeployDocker        = "deploy-docker"
	CreateDatabase      = "create-database"
	ExposeDatabasePorts = "expose-database-ports"
	DeployTemplate      = "deploy-template"
)

// ID returns the ID of the job performing the operation on the entity. Two
// jobs performing the same operation on the same entity share an ID, so the
// second is not enqueued while the first is in flight.
func ID(operation string, entityID string) string {
	return operation + ":" + entityID
}

// HostQueue returns the name of the queue for the operation on the host.
func HostQueue(operation string, hostID string) string {
	return queue.QueueName(operation, hostID)
}

// ServicePayload is the payload of every job that acts on one Service as part
// of one Deployment.
type ServicePayload struct {
	ServiceID    string `json:"serviceID"`
	HostID       string `json:"hostID"`
	DeploymentID string `json:"deploymentID,omitempty"`
}

// SetVariablesPayload is the payload of a set-variables job.
type SetVariablesPayload struct {
	ServicePayload `json:",inline"`
	// AllowExpose permits resolving a public database URI by exposing the
	// database when it has no exposed port.
	AllowExpose bool `json:"allowExpose,omitempty"`
}

// DeployAppPayload is the payload of a deploy-app job.
type DeployAppPayload struct {
	ServicePayload `json:",inline"`
}

// DeployDockerPayload is the payload of a deploy-docker job.
type DeployDockerPayload struct {
	ServicePayload `json:",inline"`
}

// CreateDatabasePayload is the payload of a create-database job. Name and
// Engine are informational copies of the Service's name and engine.
type CreateDatabasePayload struct {
	ServicePayload `json:",inline"`
	Name           string `json:"name,omitempty"`
	Engine         string `json:"type,omitempty"`
}

// ExposeDatabasePortsPayload is the payload of an expose-database-ports job.
// If Ports is empty, the host chooses.
type ExposeDatabasePortsPayload struct {
	ServicePayload `json:",inline"`
	Ports          []int `json:"ports,omitempty"`
}

// DeployTemplatePayload is the payload of a deploy-template job.
type DeployTemplatePayload struct {
	TemplateID string `json:"templateID"`
	HostID     string `json:"hostID"`
}
