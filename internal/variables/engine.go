package variables

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Well-known variable names that resolve through host-side lookups rather
// than by reading the referenced Service's configuration.
const (
	DatabaseURI        = "DATABASE_URI"
	PrivateDatabaseURI = "PRIVATE_DATABASE_URI"
	PublicDatabaseURI  = "PUBLIC_DATABASE_URI"
	PublicDomain       = "PUBLIC_DOMAIN"
)

// ErrResolution represents a variable expression that could not be resolved.
type ErrResolution struct {
	Key        string `json:"key"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

func (e *ErrResolution) Error() string {
	return fmt.Sprintf(
		"variable %s (%q) could not be resolved: %s",
		e.Key,
		e.Expression,
		e.Reason,
	)
}

// Exposer is the interface for components that expose a database's ports on
// its host and return once the ports are exposed.
type Exposer interface {
	ExposePorts(
		ctx context.Context,
		host core.Host,
		database core.Service,
		channel string,
	) error
}

// Request is everything resolution needs to know about the Service whose
// variables are being resolved.
type Request struct {
	Service core.Service
	Host    core.Host
	// Ops are the platform operations of the Service's host.
	Ops platform.Operations
	// Reporter receives a warning for each variable that cannot be resolved.
	Reporter *events.Reporter
	// AllowExpose permits exposing a database to resolve its public URI.
	AllowExpose bool
}

// Resolved is a single resolved variable.
type Resolved struct {
	Key   string         `json:"key"`
	Kind  Kind           `json:"kind"`
	Value platform.Value `json:"-"`
}

// Resolution is the outcome of resolving a batch of variables. Every variable
// has an entry in Resolved, including those that failed, which resolve to an
// empty placeholder and also have an entry in Errors.
type Resolution struct {
	Resolved []Resolved      `json:"resolved"`
	Errors   []ErrResolution `json:"errors,omitempty"`
	// hostKeys are configuration keys the host set while resolving, e.g. by
	// linking a database. They are read back deferred, like references.
	hostKeys []string
}

// Engine resolves variable expressions for Services and applies the results
// to their apps.
type Engine struct {
	services    core.ServicesStore
	deployments core.DeploymentsStore
	exposer     Exposer
	logger      *logrus.Entry
}

// NewEngine returns an Engine.
func NewEngine(
	services core.ServicesStore,
	deployments core.DeploymentsStore,
	exposer Exposer,
	logger *logrus.Entry,
) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		services:    services,
		deployments: deployments,
		exposer:     exposer,
		logger:      logger,
	}
}

// Resolve resolves every one of the provided variables. A variable that
// cannot be resolved never prevents the others from resolving. Errors other
// than resolution errors, e.g. failures communicating with the host, abort the
// batch.
func (e *Engine) Resolve(
	ctx context.Context,
	req Request,
	variables []core.Variable,
) (Resolution, error) {
	resolution := Resolution{
		Resolved: make([]Resolved, 0, len(variables)),
	}
	for _, variable := range variables {
		kind := Classify(variable.Expression)
		value, hostKeys, err := e.resolve(ctx, req, variable, kind)
		if err != nil {
			resErr, ok := errors.Cause(err).(*ErrResolution)
			if !ok {
				return resolution, errors.Wrapf(
					err,
					"error resolving variable %s of service %q",
					variable.Key,
					req.Service.Name,
				)
			}
			resolution.Errors = append(resolution.Errors, *resErr)
			if req.Reporter != nil {
				req.Reporter.Warn(ctx, "%s; it will be set empty", resErr)
			}
			e.logger.WithFields(logrus.Fields{
				"service":  req.Service.Name,
				"variable": variable.Key,
			}).Warn(resErr.Reason)
			value = platform.Literal("")
		}
		resolution.Resolved = append(resolution.Resolved, Resolved{
			Key:   variable.Key,
			Kind:  kind,
			Value: value,
		})
		resolution.hostKeys = append(resolution.hostKeys, hostKeys...)
	}
	return resolution, nil
}

func (e *Engine) resolve(
	ctx context.Context,
	req Request,
	variable core.Variable,
	kind Kind,
) (platform.Value, []string, error) {
	fail := func(format string, args ...interface{}) error {
		return &ErrResolution{
			Key:        variable.Key,
			Expression: variable.Expression,
			Reason:     fmt.Sprintf(format, args...),
		}
	}
	switch kind {
	case KindStatic:
		return platform.Literal(variable.Expression), nil, nil
	case KindFunction:
		// A secret survives later passes only while the expression still
		// describes it.
		length, charset, _ := ParseFunction(variable.Expression)
		if existing, ok := req.Service.PopulatedVariables[variable.Key]; ok &&
			!req.Service.IsDeferred(variable.Key) &&
			isSecretOf(existing, length, charset) {
			return platform.Literal(existing), nil, nil
		}
		secret, err := Secret(length, charset)
		if err != nil {
			return platform.Value{}, nil, fail("%s", err)
		}
		return platform.Literal(secret), nil, nil
	case KindReference:
		return e.resolveReference(ctx, req, variable, fail)
	case KindCombo:
		return platform.Value{}, nil, fail(
			"expressions may contain only one {{ ... }} marker and nothing else",
		)
	}
	return platform.Value{}, nil, fail(
		"marker is neither a secret() call nor a <service>.<VARIABLE> reference",
	)
}

func (e *Engine) resolveReference(
	ctx context.Context,
	req Request,
	variable core.Variable,
	fail func(string, ...interface{}) error,
) (platform.Value, []string, error) {
	serviceName, varName, _ := ParseReference(variable.Expression)
	ref, err := e.services.GetByName(ctx, req.Service.ProjectID, serviceName)
	if err != nil {
		if meta.IsNotFound(err) {
			return platform.Value{}, nil, fail(
				"project has no service named %q",
				serviceName,
			)
		}
		return platform.Value{}, nil, err
	}
	switch varName {
	case DatabaseURI, PrivateDatabaseURI:
		return e.resolvePrivateDatabaseURI(ctx, req, ref, fail)
	case PublicDatabaseURI:
		value, err := e.resolvePublicDatabaseURI(ctx, req, ref, fail)
		return value, nil, err
	case PublicDomain:
		value, err := e.resolvePublicDomain(ctx, req, ref, fail)
		return value, nil, err
	}
	if ref.Type == core.ServiceTypeDatabase {
		return platform.Value{}, nil, fail(
			"database service %q exposes only %s, %s, and %s",
			ref.Name,
			DatabaseURI,
			PrivateDatabaseURI,
			PublicDatabaseURI,
		)
	}
	return platform.Deferred(platform.DeferredConfigValue(ref.Name, varName)),
		nil,
		nil
}

// resolvePrivateDatabaseURI links the database to the requesting Service's
// app if it is not already linked and yields a deferred read of the
// connection URL the link placed in the app's configuration.
func (e *Engine) resolvePrivateDatabaseURI(
	ctx context.Context,
	req Request,
	ref core.Service,
	fail func(string, ...interface{}) error,
) (platform.Value, []string, error) {
	if ref.Type != core.ServiceTypeDatabase {
		return platform.Value{}, nil, fail("service %q is not a database", ref.Name)
	}
	if req.Service.Type == core.ServiceTypeDatabase {
		return platform.Value{}, nil, fail("databases cannot be linked to databases")
	}
	links, err := req.Ops.DatabaseLinks(ctx, ref.Engine(), ref.Name)
	if err != nil {
		return platform.Value{}, nil, err
	}
	alias := Alias(ref.Name)
	if !contains(links, req.Service.Name) {
		if err = req.Ops.LinkDatabase(
			ctx,
			ref.Engine(),
			ref.Name,
			req.Service.Name,
			alias,
		); err != nil {
			return platform.Value{}, nil, err
		}
	}
	urlKey := alias + "_URL"
	return platform.Deferred(
			platform.DeferredConfigValue(req.Service.Name, urlKey),
		),
		[]string{urlKey},
		nil
}

// resolvePublicDatabaseURI yields the database's connection URL rewritten to
// reach the database through its host's exposed port.
func (e *Engine) resolvePublicDatabaseURI(
	ctx context.Context,
	req Request,
	ref core.Service,
	fail func(string, ...interface{}) error,
) (platform.Value, error) {
	if ref.Type != core.ServiceTypeDatabase {
		return platform.Value{}, fail("service %q is not a database", ref.Name)
	}
	successes, err := e.deployments.CountByServiceAndStatus(
		ctx,
		ref.ID,
		core.DeploymentStatusSuccess,
	)
	if err != nil {
		return platform.Value{}, err
	}
	if successes == 0 {
		return platform.Value{}, fail(
			"database %q has never been deployed successfully",
			ref.Name,
		)
	}
	ports, err := req.Ops.ExposedPorts(ctx, ref.Engine(), ref.Name)
	if err != nil {
		return platform.Value{}, err
	}
	if len(ports) == 0 {
		if !req.AllowExpose || e.exposer == nil {
			return platform.Value{}, fail(
				"database %q has no exposed port",
				ref.Name,
			)
		}
		channel := ""
		if req.Reporter != nil {
			channel = req.Reporter.Channel()
		}
		if err = e.exposer.ExposePorts(ctx, req.Host, ref, channel); err != nil {
			return platform.Value{}, fail(
				"error exposing database %q: %s",
				ref.Name,
				err,
			)
		}
		if ports, err = req.Ops.ExposedPorts(
			ctx,
			ref.Engine(),
			ref.Name,
		); err != nil {
			return platform.Value{}, err
		}
		if len(ports) == 0 {
			return platform.Value{}, fail(
				"database %q has no exposed port after exposing it",
				ref.Name,
			)
		}
	}
	dsn, err := req.Ops.DatabaseDSN(ctx, ref.Engine(), ref.Name)
	if err != nil {
		return platform.Value{}, err
	}
	public, err := PublicDSN(dsn, req.Host.Address, ports[0])
	if err != nil {
		return platform.Value{}, fail("%s", err)
	}
	return platform.Literal(public), nil
}

func (e *Engine) resolvePublicDomain(
	ctx context.Context,
	req Request,
	ref core.Service,
	fail func(string, ...interface{}) error,
) (platform.Value, error) {
	if ref.Type == core.ServiceTypeDatabase {
		return platform.Value{}, fail("database %q has no domain", ref.Name)
	}
	domains, err := req.Ops.Domains(ctx, ref.Name)
	if err != nil {
		return platform.Value{}, err
	}
	if len(domains) == 0 {
		return platform.Value{}, fail("service %q has no domain", ref.Name)
	}
	return platform.Literal(domains[0]), nil
}

// Apply writes every resolved variable to the Service's app in one write,
// reads the app's complete configuration back, and persists it as the
// Service's snapshot of populated variables. Deferred variables, and keys the
// host set while resolving, are persisted as the host-side command that
// yields them instead of the value. The updated Service is returned. Nothing
// is persisted unless the write and the read both succeed.
func (e *Engine) Apply(
	ctx context.Context,
	req Request,
	resolution Resolution,
) (core.Service, error) {
	service := req.Service
	values := map[string]platform.Value{}
	deferred := map[string]string{}
	for _, resolved := range resolution.Resolved {
		values[resolved.Key] = resolved.Value
		if resolved.Value.IsDeferred() {
			deferred[resolved.Key] = resolved.Value.Deferred
		}
	}
	for _, key := range resolution.hostKeys {
		if _, ok := deferred[key]; !ok {
			deferred[key] = platform.DeferredConfigValue(service.Name, key)
		}
	}
	if err := req.Ops.SetConfig(ctx, service.Name, values, false); err != nil {
		return service, errors.Wrapf(
			err,
			"error setting variables of service %q",
			service.Name,
		)
	}
	exported, err := req.Ops.ExportConfig(ctx, service.Name)
	if err != nil {
		return service, errors.Wrapf(
			err,
			"error reading variables of service %q",
			service.Name,
		)
	}
	populated := map[string]string{}
	deferredKeys := []string{}
	for key, value := range exported {
		if command, ok := deferred[key]; ok {
			populated[key] = command
			deferredKeys = append(deferredKeys, key)
			continue
		}
		populated[key] = value
	}
	sort.Strings(deferredKeys)
	if err = e.services.UpdatePopulatedVariables(
		ctx,
		service.ID,
		populated,
		deferredKeys,
	); err != nil {
		return service, err
	}
	service.PopulatedVariables = populated
	service.DeferredVariables = deferredKeys
	return service, nil
}

// ExposeExclusively exposes the database on exactly the provided ports, or on
// ports of the host's choosing if none are provided, after first removing any
// ports it was previously exposed on.
func ExposeExclusively(
	ctx context.Context,
	ops platform.Operations,
	engine string,
	name string,
	ports ...int,
) ([]int, error) {
	existing, err := ops.ExposedPorts(ctx, engine, name)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if err = ops.UnexposeDatabase(ctx, engine, name); err != nil {
			return nil, errors.Wrapf(err, "error unexposing database %q", name)
		}
	}
	if err = ops.ExposeDatabase(ctx, engine, name, ports...); err != nil {
		return nil, errors.Wrapf(err, "error exposing database %q", name)
	}
	return ops.ExposedPorts(ctx, engine, name)
}

var nonAliasChars = regexp.MustCompile(`[^A-Z0-9]+`)

// Alias returns the link alias of the named database, e.g. ORDERS_DB for
// orders-db. Linking with an alias places the connection URL in the app's
// configuration as <alias>_URL.
func Alias(databaseName string) string {
	alias := strings.Trim(
		nonAliasChars.ReplaceAllString(strings.ToUpper(databaseName), "_"),
		"_",
	)
	if alias == "" || (alias[0] >= '0' && alias[0] <= '9') {
		alias = "DB_" + alias
	}
	return alias
}

// PublicDSN returns the connection URL with its host and port replaced.
func PublicDSN(dsn string, host string, port int) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "error parsing database connection URL")
	}
	if u.Host == "" {
		return "", errors.New("database connection URL has no host")
	}
	u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	return u.String(), nil
}

func contains(items []string, item string) bool {
	for _, i := range items {
		if i == item {
			return true
		}
	}
	return false
}
