package core

import (
	"context"
	_ "embed" // Template schema
	"encoding/json"
	"fmt"

	"github.com/krancour/hoist/internal/meta"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/template.json
var templateSchemaBytes []byte

var templateSchemaLoader = gojsonschema.NewBytesLoader(templateSchemaBytes)

// TemplateService describes one Service to be created from a Template.
type TemplateService struct {
	Name      string         `json:"name" bson:"name"`
	Type      ServiceType    `json:"type" bson:"type"`
	Variables []Variable     `json:"variables,omitempty" bson:"variables,omitempty"`
	Details   ServiceDetails `json:"details" bson:"details"`
}

// Template describes a set of Services that are deployed together, in
// declaration order.
type Template struct {
	meta.ObjectMeta `json:"metadata" bson:"metadata"`
	Name            string            `json:"name" bson:"name"`
	TenantSlug      string            `json:"tenantSlug" bson:"tenantSlug"`
	Services        []TemplateService `json:"services" bson:"services"`
}

// Validate checks the Template against the template schema and confirms that
// each Service carries the details matching its type, that only app and docker
// Services declare variables, and that it declares at least one Service with
// no duplicate names. Any violation is returned as a
// *meta.ErrValidation.
func (t Template) Validate() error {
	templateJSON, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "error encoding template")
	}
	return ValidateTemplateJSON(templateJSON)
}

// ValidateTemplateJSON is Validate for a template that has not been decoded.
func ValidateTemplateJSON(templateJSON []byte) error {
	result, err := gojsonschema.Validate(
		templateSchemaLoader,
		gojsonschema.NewBytesLoader(templateJSON),
	)
	if err != nil {
		return meta.NewErrValidation("Template could not be parsed", err.Error())
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, resultErr := range result.Errors() {
			details[i] = resultErr.String()
		}
		return meta.NewErrValidation("Template failed schema validation", details...)
	}
	t := Template{}
	if err := json.Unmarshal(templateJSON, &t); err != nil {
		return meta.NewErrValidation("Template could not be parsed", err.Error())
	}
	if len(t.Services) == 0 {
		return meta.NewErrValidation("Template declares no services")
	}
	details := []string{}
	names := map[string]struct{}{}
	for _, svc := range t.Services {
		if _, ok := names[svc.Name]; ok {
			details = append(details, fmt.Sprintf("service name %q is repeated", svc.Name))
		}
		names[svc.Name] = struct{}{}
		if svc.Type == ServiceTypeDatabase && len(svc.Variables) > 0 {
			details = append(
				details,
				fmt.Sprintf(
					"service %q is a database and cannot declare variables",
					svc.Name,
				),
			)
		}
		if !detailsMatchType(svc.Type, svc.Details) {
			details = append(
				details,
				fmt.Sprintf(
					"service %q of type %q must carry exactly the %q details",
					svc.Name,
					svc.Type,
					svc.Type,
				),
			)
		}
	}
	if len(details) > 0 {
		return meta.NewErrValidation("Template is inconsistent", details...)
	}
	return nil
}

func detailsMatchType(serviceType ServiceType, details ServiceDetails) bool {
	set := 0
	for _, present := range []bool{
		details.App != nil,
		details.Docker != nil,
		details.Database != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return false
	}
	switch serviceType {
	case ServiceTypeApp:
		return details.App != nil
	case ServiceTypeDocker:
		return details.Docker != nil
	case ServiceTypeDatabase:
		return details.Database != nil
	}
	return false
}

// TemplatesStore is an interface for components that implement Template
// persistence concerns.
type TemplatesStore interface {
	Create(context.Context, Template) error
	Get(ctx context.Context, id string) (Template, error)
	List(context.Context) ([]Template, error)
}
