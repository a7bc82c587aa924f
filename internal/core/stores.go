package core

// Stores bundles every store hoist persists its documents with.
type Stores struct {
	Projects    ProjectsStore
	Services    ServicesStore
	Deployments DeploymentsStore
	Templates   TemplatesStore
	Hosts       HostsStore
}
