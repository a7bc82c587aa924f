package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/meta"
)

// ChannelsEndpoints exposes the Event Bus: read-back of a channel's recent
// messages and a live stream of new ones.
type ChannelsEndpoints struct {
	*BaseEndpoints
	Bus events.Bus
	// RecentLimit caps how many messages a read-back returns.
	RecentLimit int
}

// Register implements Endpoints.
func (c *ChannelsEndpoints) Register(router *mux.Router) {
	// Channel names contain slashes, e.g. deployments/<id>
	router.HandleFunc(
		"/v1/channels/{channel:.+}/recent",
		c.recent,
	).Methods(http.MethodGet)
	router.HandleFunc(
		"/v1/channels/{channel:.+}/stream",
		c.stream,
	).Methods(http.MethodGet)
}

func (c *ChannelsEndpoints) recent(w http.ResponseWriter, r *http.Request) {
	c.ServeRequest(
		InboundRequest{
			W: w,
			R: r,
			EndpointLogic: func() (interface{}, error) {
				limit := c.RecentLimit
				if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
					requested, err := strconv.Atoi(limitStr)
					if err != nil || requested < 1 {
						return nil, meta.NewErrValidation(
							"limit must be a positive integer",
						)
					}
					if limit <= 0 || requested < limit {
						limit = requested
					}
				}
				return c.Bus.Recent(r.Context(), mux.Vars(r)["channel"], limit)
			},
			SuccessCode: http.StatusOK,
		},
	)
}

func (c *ChannelsEndpoints) stream(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	eventCh, err := c.Bus.Subscribe(r.Context(), channel)
	if err != nil {
		c.Logger.WithError(err).WithField("channel", channel).Error(
			"error subscribing to channel",
		)
		c.WriteAPIResponse(
			w,
			http.StatusInternalServerError,
			&meta.ErrInternalServer{},
		)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}
	for event := range eventCh {
		if _, err := fmt.Fprintln(w, event.Message); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
