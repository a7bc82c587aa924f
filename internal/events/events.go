package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RefreshChannel is reserved for structural-change notifications. Messages
// published on it are JSON-encoded RefreshPayloads rather than log text.
const RefreshChannel = "refresh"

// Event is a single message delivered over a channel. Events are ephemeral.
// They are delivered only to subscribers connected at the time of publication.
type Event struct {
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RefreshPayload is the message body for the RefreshChannel.
type RefreshPayload struct {
	Refresh    bool   `json:"refresh"`
	TenantSlug string `json:"tenantSlug,omitempty"`
}

// Publisher is the interface for components that publish messages. Publishing
// is fire-and-forget. Implementations log, rather than return, delivery
// failures.
type Publisher interface {
	Publish(ctx context.Context, channel string, message string)
}

// Bus is a process-wide publish/subscribe channel for log lines and refresh
// notifications. Delivery is best-effort and at-most-once per subscriber.
// Messages published by a single goroutine are delivered to a subscriber in
// publish order.
type Bus interface {
	Publisher
	// Subscribe returns a channel over which Events published to the named
	// channel are delivered until the provided context is canceled, at which
	// point the returned channel is closed.
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
	// Recent returns up to limit of the most recently published messages for
	// the named channel, oldest first. A limit <= 0 returns everything
	// captured. This is the read-back callers use to persist logs.
	Recent(ctx context.Context, channel string, limit int) ([]string, error)
	// Close releases resources held by the Bus.
	Close() error
}

// PublishRefresh publishes a refresh notification scoped to the provided
// tenant.
func PublishRefresh(ctx context.Context, publisher Publisher, tenantSlug string) {
	payload, _ := json.Marshal( // nolint: errcheck
		RefreshPayload{
			Refresh:    true,
			TenantSlug: tenantSlug,
		},
	)
	publisher.Publish(ctx, RefreshChannel, string(payload))
}

// DeploymentChannel returns the name of the channel that output relating to
// the specified Deployment is published to.
func DeploymentChannel(deploymentID string) string {
	return fmt.Sprintf("deployments/%s", deploymentID)
}

// JobChannel returns the name of the default channel that failures of the
// specified job are published to when the job was enqueued without one.
func JobChannel(queueName string, jobID string) string {
	return fmt.Sprintf("jobs/%s/%s", queueName, jobID)
}
