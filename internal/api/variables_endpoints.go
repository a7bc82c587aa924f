package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/krancour/hoist/internal/variables"
	"github.com/xeipuuv/gojsonschema"
)

// ClassifyRequest is the body of a request to classify an expression.
type ClassifyRequest struct {
	Expression string `json:"expression"`
}

// ClassifyResponse is the classification of an expression.
type ClassifyResponse struct {
	Kind variables.Kind `json:"kind"`
}

// VariablesEndpoints exposes variable expression tooling.
type VariablesEndpoints struct {
	*BaseEndpoints

	classifySchemaLoader gojsonschema.JSONLoader
}

// Register implements Endpoints.
func (v *VariablesEndpoints) Register(router *mux.Router) {
	v.classifySchemaLoader = mustLoadSchema("classify.json")
	router.HandleFunc(
		"/v1/variables/classify",
		v.classify,
	).Methods(http.MethodPost)
}

func (v *VariablesEndpoints) classify(w http.ResponseWriter, r *http.Request) {
	req := ClassifyRequest{}
	v.ServeRequest(
		InboundRequest{
			W:                   w,
			R:                   r,
			ReqBodySchemaLoader: v.classifySchemaLoader,
			ReqBodyObj:          &req,
			EndpointLogic: func() (interface{}, error) {
				return ClassifyResponse{
					Kind: variables.Classify(req.Expression),
				}, nil
			},
			SuccessCode: http.StatusOK,
		},
	)
}
