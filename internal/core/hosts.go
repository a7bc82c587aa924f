package core

import (
	"context"

	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/remote"
)

// Host is a remote machine running the platform that Services are deployed
// onto.
type Host struct {
	meta.ObjectMeta `json:"metadata" bson:"metadata"`
	Name            string `json:"name" bson:"name"`
	TenantSlug      string `json:"tenantSlug" bson:"tenantSlug"`
	Address         string `json:"address" bson:"address"`
	Port            int    `json:"port,omitempty" bson:"port,omitempty"`
	Username        string `json:"username" bson:"username"`
	// PrivateKey is the PEM-encoded key (or password) used to authenticate.
	PrivateKey      string `json:"privateKey,omitempty" bson:"privateKey,omitempty"`
	OverlayHostname string `json:"overlayHostname,omitempty" bson:"overlayHostname,omitempty"`
}

// Target returns the remote.Target for the Host.
func (h Host) Target() remote.Target {
	return remote.Target{
		Host:            h.Address,
		Port:            h.Port,
		Username:        h.Username,
		Credential:      h.PrivateKey,
		OverlayHostname: h.OverlayHostname,
	}
}

// QueueKey returns the key that routes the Host's mutating operations to
// their own queues.
func (h Host) QueueKey() string {
	return h.ID
}

// HostsStore is an interface for components that implement Host persistence
// concerns.
type HostsStore interface {
	Create(context.Context, Host) error
	Get(ctx context.Context, id string) (Host, error)
	List(context.Context) ([]Host, error)
}
