// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/krancour/hoist/internal/platform"
	"github.com/krancour/hoist/internal/remote"
)

// App is the fake state of a single app.
type App struct {
	Config    map[string]string
	BuildArgs map[string]string
	Domains   []string
	Ports     []platform.PortMapping
	Source    string
	Deploys   int
}

// Database is the fake state of a single database service.
type Database struct {
	Engine string
	DSN    string
	// Links maps linked app names to link aliases.
	Links        map[string]string
	ExposedPorts []int
}

// Host is the fake state of a single remote host.
type Host struct {
	mu        sync.Mutex
	Apps      map[string]*App
	Databases map[string]*Database
	Registry  map[string]string
	// Calls records the name of every operation invoked, in order.
	Calls []string
	// failures maps operation names to the error they should return.
	failures map[string]error
	nextPort int
}

func newHost() *Host {
	return &Host{
		Apps:      map[string]*App{},
		Databases: map[string]*Database{},
		Registry:  map[string]string{},
		failures:  map[string]error{},
		nextPort:  30000,
	}
}

// Platform is an in-memory implementation of platform.Dialer. Each distinct
// Target.Host gets its own fake Host.
type Platform struct {
	mu    sync.Mutex
	hosts map[string]*Host
	// DialErr, if set, is returned by every Dial.
	DialErr error
}

// New returns an empty Platform.
func New() *Platform {
	return &Platform{
		hosts: map[string]*Host{},
	}
}

// Host returns the fake state of the named host, creating it if necessary.
func (p *Platform) Host(name string) *Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[name]
	if !ok {
		h = newHost()
		p.hosts[name] = h
	}
	return h
}

// Dial implements platform.Dialer.
func (p *Platform) Dial(
	_ context.Context,
	target remote.Target,
	opts remote.ExecOptions,
) (platform.Operations, error) {
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	return &session{
		host: p.Host(target.Host),
		opts: opts,
	}, nil
}

// FailOn makes the named operation (e.g. "SyncGit") fail with the provided
// error. A nil error makes it fail with a *remote.ErrCommand.
func (h *Host) FailOn(operation string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		err = &remote.ErrCommand{
			Command:  operation,
			ExitCode: 1,
			Stderr:   operation + " failed",
		}
	}
	h.failures[operation] = err
}

// AddApp adds an app with the provided configuration and domains.
func (h *Host) AddApp(name string, config map[string]string, domains ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if config == nil {
		config = map[string]string{}
	}
	h.Apps[name] = &App{
		Config:    config,
		BuildArgs: map[string]string{},
		Domains:   domains,
	}
}

// AddDatabase adds a database with the provided DSN.
func (h *Host) AddDatabase(engine string, name string, dsn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Databases[name] = &Database{
		Engine: engine,
		DSN:    dsn,
		Links:  map[string]string{},
	}
}

// App returns a copy of the named app's state.
func (h *Host) App(name string) (App, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	app, ok := h.Apps[name]
	if !ok {
		return App{}, false
	}
	return copyApp(app), true
}

// Database returns a copy of the named database's state.
func (h *Host) Database(name string) (Database, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, ok := h.Databases[name]
	if !ok {
		return Database{}, false
	}
	out := *db
	out.Links = map[string]string{}
	for k, v := range db.Links {
		out.Links[k] = v
	}
	out.ExposedPorts = append([]int{}, db.ExposedPorts...)
	return out, true
}

// CallsTo returns how many times the named operation has been invoked.
func (h *Host) CallsTo(operation string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var count int
	for _, call := range h.Calls {
		if call == operation {
			count++
		}
	}
	return count
}

func copyApp(app *App) App {
	out := *app
	out.Config = map[string]string{}
	for k, v := range app.Config {
		out.Config[k] = v
	}
	out.BuildArgs = map[string]string{}
	for k, v := range app.BuildArgs {
		out.BuildArgs[k] = v
	}
	out.Domains = append([]string{}, app.Domains...)
	out.Ports = append([]platform.PortMapping{}, app.Ports...)
	return out
}

var configGetRegex = regexp.MustCompile(`^dokku config:get ('?)([^' ]+)('?) ('?)([^' ]+)('?)$`)

// evaluate computes a Value the way the host would, resolving deferred reads
// of app configuration.
func (h *Host) evaluate(value platform.Value) string {
	if !value.IsDeferred() {
		return value.Text
	}
	matches := configGetRegex.FindStringSubmatch(value.Deferred)
	if matches == nil {
		return ""
	}
	if app, ok := h.Apps[matches[2]]; ok {
		return app.Config[matches[5]]
	}
	return ""
}

type session struct {
	host *Host
	opts remote.ExecOptions
}

// begin records the call and returns any injected failure. It must be called
// with the host lock held.
func (s *session) begin(operation string) error {
	s.host.Calls = append(s.host.Calls, operation)
	if s.opts.OnStdout != nil {
		s.opts.OnStdout([]byte(fmt.Sprintf("running %s\n", operation)))
	}
	return s.host.failures[operation]
}

func (s *session) app(name string) (*App, error) {
	app, ok := s.host.Apps[name]
	if !ok {
		return nil, &remote.ErrCommand{
			Command:  "dokku",
			ExitCode: 1,
			Stderr:   fmt.Sprintf("App %s does not exist", name),
		}
	}
	return app, nil
}

func (s *session) database(name string) (*Database, error) {
	db, ok := s.host.Databases[name]
	if !ok {
		return nil, &remote.ErrCommand{
			Command:  "dokku",
			ExitCode: 1,
			Stderr:   fmt.Sprintf("Database %s does not exist", name),
		}
	}
	return db, nil
}

func (s *session) AppExists(_ context.Context, app string) (bool, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("AppExists"); err != nil {
		return false, err
	}
	_, ok := s.host.Apps[app]
	return ok, nil
}

func (s *session) CreateApp(_ context.Context, app string) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("CreateApp"); err != nil {
		return err
	}
	if _, ok := s.host.Apps[app]; ok {
		return &remote.ErrCommand{
			Command:  "dokku apps:create",
			ExitCode: 1,
			Stderr:   "Name is already taken",
		}
	}
	s.host.Apps[app] = &App{
		Config:    map[string]string{},
		BuildArgs: map[string]string{},
	}
	return nil
}

func (s *session) SetConfig(
	_ context.Context,
	appName string,
	values map[string]platform.Value,
	_ bool,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("SetConfig"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	// Every value is evaluated before any is written, as the shell would.
	evaluated := map[string]string{}
	for key, value := range values {
		evaluated[key] = s.host.evaluate(value)
	}
	for key, value := range evaluated {
		app.Config[key] = value
	}
	return nil
}

func (s *session) ExportConfig(
	_ context.Context,
	appName string,
) (map[string]string, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("ExportConfig"); err != nil {
		return nil, err
	}
	app, err := s.app(appName)
	if err != nil {
		return nil, err
	}
	return copyApp(app).Config, nil
}

func (s *session) Domains(_ context.Context, appName string) ([]string, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("Domains"); err != nil {
		return nil, err
	}
	app, err := s.app(appName)
	if err != nil {
		return nil, err
	}
	return append([]string{}, app.Domains...), nil
}

func (s *session) DatabaseExists(
	_ context.Context,
	_ string,
	name string,
) (bool, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("DatabaseExists"); err != nil {
		return false, err
	}
	_, ok := s.host.Databases[name]
	return ok, nil
}

func (s *session) CreateDatabase(
	_ context.Context,
	engine string,
	name string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("CreateDatabase"); err != nil {
		return err
	}
	s.host.Databases[name] = &Database{
		Engine: engine,
		DSN: fmt.Sprintf(
			"%s://%s:secret-%s@dokku-%s-%s:5432/%s",
			engine,
			engine,
			name,
			engine,
			name,
			name,
		),
		Links: map[string]string{},
	}
	return nil
}

func (s *session) DatabaseLinks(
	_ context.Context,
	_ string,
	name string,
) ([]string, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("DatabaseLinks"); err != nil {
		return nil, err
	}
	db, err := s.database(name)
	if err != nil {
		return nil, err
	}
	links := []string{}
	for app := range db.Links {
		links = append(links, app)
	}
	sort.Strings(links)
	return links, nil
}

func (s *session) LinkDatabase(
	_ context.Context,
	_ string,
	name string,
	appName string,
	alias string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("LinkDatabase"); err != nil {
		return err
	}
	db, err := s.database(name)
	if err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	db.Links[appName] = alias
	app.Config[alias+"_URL"] = db.DSN
	return nil
}

func (s *session) DatabaseDSN(
	_ context.Context,
	_ string,
	name string,
) (string, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("DatabaseDSN"); err != nil {
		return "", err
	}
	db, err := s.database(name)
	if err != nil {
		return "", err
	}
	return db.DSN, nil
}

func (s *session) ExposedPorts(
	_ context.Context,
	_ string,
	name string,
) ([]int, error) {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("ExposedPorts"); err != nil {
		return nil, err
	}
	db, err := s.database(name)
	if err != nil {
		return nil, err
	}
	return append([]int{}, db.ExposedPorts...), nil
}

// ExposeDatabase adds to the exposed ports, as the real platform does. Callers
// wanting exclusive exposure must unexpose first.
func (s *session) ExposeDatabase(
	_ context.Context,
	_ string,
	name string,
	ports ...int,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("ExposeDatabase"); err != nil {
		return err
	}
	db, err := s.database(name)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		s.host.nextPort++
		ports = []int{s.host.nextPort}
	}
	db.ExposedPorts = append(db.ExposedPorts, ports...)
	return nil
}

func (s *session) UnexposeDatabase(
	_ context.Context,
	_ string,
	name string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("UnexposeDatabase"); err != nil {
		return err
	}
	db, err := s.database(name)
	if err != nil {
		return err
	}
	db.ExposedPorts = nil
	return nil
}

func (s *session) ClearBuildArgs(_ context.Context, appName string) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("ClearBuildArgs"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	app.BuildArgs = map[string]string{}
	return nil
}

func (s *session) AddBuildArg(
	_ context.Context,
	appName string,
	key string,
	value platform.Value,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("AddBuildArg"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	app.BuildArgs[key] = s.host.evaluate(value)
	return nil
}

func (s *session) SyncGit(
	_ context.Context,
	appName string,
	repository string,
	branch string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("SyncGit"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	app.Source = repository + "#" + branch
	app.Deploys++
	return nil
}

func (s *session) RegistryLogin(
	_ context.Context,
	server string,
	username string,
	_ string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("RegistryLogin"); err != nil {
		return err
	}
	s.host.Registry[server] = username
	return nil
}

func (s *session) SetPorts(
	_ context.Context,
	appName string,
	mappings ...platform.PortMapping,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("SetPorts"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	app.Ports = append([]platform.PortMapping{}, mappings...)
	return nil
}

func (s *session) DeployImage(
	_ context.Context,
	appName string,
	image string,
) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if err := s.begin("DeployImage"); err != nil {
		return err
	}
	app, err := s.app(appName)
	if err != nil {
		return err
	}
	app.Source = image
	app.Deploys++
	return nil
}

func (s *session) Close() error {
	return nil
}
