package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/krancour/hoist/internal/queue"
)

// JobsService is the interface for components that enqueue and look up jobs.
// *queue.Registry implements it.
type JobsService interface {
	Enqueue(
		ctx context.Context,
		queueName string,
		jobID string,
		payload interface{},
		opts *queue.EnqueueOptions,
	) (queue.Handle, error)
	Get(ctx context.Context, queueName string, jobID string) (queue.Job, error)
}

// JobsEndpoints exposes the state of jobs for polling.
type JobsEndpoints struct {
	*BaseEndpoints
	Jobs JobsService
}

// Register implements Endpoints.
func (j *JobsEndpoints) Register(router *mux.Router) {
	router.HandleFunc(
		"/v1/queues/{queue}/jobs/{id}",
		j.get,
	).Methods(http.MethodGet)
}

func (j *JobsEndpoints) get(w http.ResponseWriter, r *http.Request) {
	j.ServeRequest(
		InboundRequest{
			W: w,
			R: r,
			EndpointLogic: func() (interface{}, error) {
				return j.Jobs.Get(r.Context(), mux.Vars(r)["queue"], mux.Vars(r)["id"])
			},
			SuccessCode: http.StatusOK,
		},
	)
}
