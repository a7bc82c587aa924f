package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/krancour/hoist/internal/remote"
)

// Value is the value of a configuration variable or build argument. Exactly
// one of Text and Deferred is meaningful. A Deferred value is a command that
// the remote host runs at write time, its output becoming the value, so that
// secrets held by the host never travel through hoist.
type Value struct {
	Text     string `json:"text,omitempty"`
	Deferred string `json:"deferred,omitempty"`
}

// Literal returns a Value holding the provided text.
func Literal(text string) Value {
	return Value{Text: text}
}

// Deferred returns a Value produced on the remote host by the provided
// command.
func Deferred(command string) Value {
	return Value{Deferred: command}
}

// IsDeferred returns true if the Value is produced on the remote host.
func (v Value) IsDeferred() bool {
	return v.Deferred != ""
}

// Expression returns the shell expression that yields the Value: the quoted
// literal text or a command substitution.
func (v Value) Expression() string {
	if v.IsDeferred() {
		return fmt.Sprintf(`"$(%s)"`, v.Deferred)
	}
	return shellescape.Quote(v.Text)
}

// DeferredConfigValue returns the command that reads the named configuration
// variable of the named app on the remote host.
func DeferredConfigValue(app string, key string) string {
	return command("config:get", app, key)
}

// PortMapping maps a public port to a container port for a scheme.
type PortMapping struct {
	Scheme        string
	HostPort      int
	ContainerPort int
}

func (p PortMapping) String() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s:%d:%d", scheme, p.HostPort, p.ContainerPort)
}

// Operations is a typed interface to the platform running on a single remote
// host. Every operation that fails because a remote command exited non-zero
// returns an error whose cause is a *remote.ErrCommand.
type Operations interface {
	// AppExists returns true if the named app exists.
	AppExists(ctx context.Context, app string) (bool, error)
	// CreateApp creates the named app.
	CreateApp(ctx context.Context, app string) error
	// SetConfig sets all of the provided configuration variables on the named
	// app in a single write.
	SetConfig(
		ctx context.Context,
		app string,
		values map[string]Value,
		restart bool,
	) error
	// ExportConfig returns the named app's complete configuration.
	ExportConfig(ctx context.Context, app string) (map[string]string, error)
	// Domains returns the virtual hosts of the named app.
	Domains(ctx context.Context, app string) ([]string, error)

	// DatabaseExists returns true if the named database exists.
	DatabaseExists(ctx context.Context, engine string, name string) (bool, error)
	// CreateDatabase creates the named database.
	CreateDatabase(ctx context.Context, engine string, name string) error
	// DatabaseLinks returns the names of the apps the database is linked to.
	DatabaseLinks(ctx context.Context, engine string, name string) ([]string, error)
	// LinkDatabase links the named database to the named app. The app's
	// configuration receives the connection URL as <alias>_URL.
	LinkDatabase(
		ctx context.Context,
		engine string,
		name string,
		app string,
		alias string,
	) error
	// DatabaseDSN returns the database's private connection URL.
	DatabaseDSN(ctx context.Context, engine string, name string) (string, error)
	// ExposedPorts returns the host ports the database is exposed on.
	ExposedPorts(ctx context.Context, engine string, name string) ([]int, error)
	// ExposeDatabase exposes the database on the provided host ports, or on
	// ports chosen by the host if none are provided.
	ExposeDatabase(
		ctx context.Context,
		engine string,
		name string,
		ports ...int,
	) error
	// UnexposeDatabase removes every exposed port of the database.
	UnexposeDatabase(ctx context.Context, engine string, name string) error

	// ClearBuildArgs removes all build-time docker options from the named app.
	ClearBuildArgs(ctx context.Context, app string) error
	// AddBuildArg adds a single build argument to the named app.
	AddBuildArg(ctx context.Context, app string, key string, value Value) error
	// SyncGit fetches the branch of the repository into the named app and
	// builds it.
	SyncGit(ctx context.Context, app string, repository string, branch string) error
	// RegistryLogin authenticates the host with a container registry.
	RegistryLogin(
		ctx context.Context,
		server string,
		username string,
		password string,
	) error
	// SetPorts replaces the port mappings of the named app.
	SetPorts(ctx context.Context, app string, mappings ...PortMapping) error
	// DeployImage deploys the named container image to the named app.
	DeployImage(ctx context.Context, app string, image string) error

	// Close releases the underlying remote.Channel.
	Close() error
}

// Dialer is the interface for components that open Operations against a
// remote host.
type Dialer interface {
	// Dial opens Operations against the Target. Output of every command run is
	// streamed to the callbacks in the provided remote.ExecOptions.
	Dial(
		ctx context.Context,
		target remote.Target,
		opts remote.ExecOptions,
	) (Operations, error)
}

const binary = "dokku"

// command returns a safely quoted platform command line.
func command(subcommand string, args ...string) string {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, binary, subcommand)
	parts = append(parts, args...)
	return shellescape.QuoteCommand(parts)
}

// engineCommand returns a safely quoted command line for a database engine's
// subcommand, e.g. postgres:create.
func engineCommand(engine string, subcommand string, args ...string) string {
	return command(strings.ToLower(engine)+":"+subcommand, args...)
}
