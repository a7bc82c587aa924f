package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/jobs"
	"github.com/xeipuuv/gojsonschema"
)

// PipelineRequest is the body of a request to deploy a Template onto a Host.
type PipelineRequest struct {
	TemplateID string `json:"templateID"`
	HostID     string `json:"hostID"`
}

// JobReference identifies an enqueued job so that it can be polled.
type JobReference struct {
	Queue string `json:"queue"`
	JobID string `json:"jobID"`
}

// PipelinesEndpoints triggers pipelines asynchronously through the
// deploy-template queue.
type PipelinesEndpoints struct {
	*BaseEndpoints
	Templates core.TemplatesStore
	Hosts     core.HostsStore
	Jobs      JobsService

	pipelineSchemaLoader gojsonschema.JSONLoader
}

// Register implements Endpoints.
func (p *PipelinesEndpoints) Register(router *mux.Router) {
	p.pipelineSchemaLoader = mustLoadSchema("pipeline.json")
	router.HandleFunc(
		"/v1/pipelines",
		p.create,
	).Methods(http.MethodPost)
}

func (p *PipelinesEndpoints) create(w http.ResponseWriter, r *http.Request) {
	req := PipelineRequest{}
	p.ServeRequest(
		InboundRequest{
			W:                   w,
			R:                   r,
			ReqBodySchemaLoader: p.pipelineSchemaLoader,
			ReqBodyObj:          &req,
			EndpointLogic: func() (interface{}, error) {
				// Fail early, rather than in the job, if either is missing.
				template, err := p.Templates.Get(r.Context(), req.TemplateID)
				if err != nil {
					return nil, err
				}
				if err = template.Validate(); err != nil {
					return nil, err
				}
				if _, err = p.Hosts.Get(r.Context(), req.HostID); err != nil {
					return nil, err
				}
				handle, err := p.Jobs.Enqueue(
					r.Context(),
					jobs.DeployTemplate,
					jobs.ID(jobs.DeployTemplate, req.TemplateID+"@"+req.HostID),
					jobs.DeployTemplatePayload{
						TemplateID: req.TemplateID,
						HostID:     req.HostID,
					},
					nil,
				)
				if err != nil {
					return nil, err
				}
				return JobReference{
					Queue: handle.Queue,
					JobID: handle.ID,
				}, nil
			},
			SuccessCode: http.StatusAccepted,
		},
	)
}
