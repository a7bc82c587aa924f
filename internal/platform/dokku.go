package platform

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/krancour/hoist/internal/remote"
	"github.com/pkg/errors"
)

type dialer struct {
	opener remote.Opener
}

// NewDialer returns a Dialer that runs platform commands over Channels opened
// by the provided remote.Opener.
func NewDialer(opener remote.Opener) Dialer {
	return &dialer{
		opener: opener,
	}
}

func (d *dialer) Dial(
	ctx context.Context,
	target remote.Target,
	opts remote.ExecOptions,
) (Operations, error) {
	ch, err := d.opener.Open(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening channel to %q", target.Host)
	}
	return NewOperations(ch, opts), nil
}

type operations struct {
	channel remote.Channel
	opts    remote.ExecOptions
}

// NewOperations returns Operations that run platform commands over the
// provided remote.Channel.
func NewOperations(channel remote.Channel, opts remote.ExecOptions) Operations {
	return &operations{
		channel: channel,
		opts:    opts,
	}
}

// run executes the command line and returns its result. Non-zero exits are
// returned as errors.
func (o *operations) run(ctx context.Context, cmd string) (remote.Result, error) {
	return o.runAs(ctx, cmd, cmd)
}

// runAs is run for command lines carrying secrets. Errors describe the command
// using the provided display text instead.
func (o *operations) runAs(
	ctx context.Context,
	cmd string,
	display string,
) (remote.Result, error) {
	res, err := o.channel.Exec(ctx, cmd, o.opts)
	if err != nil {
		return res, errors.Wrapf(err, "error running %q", display)
	}
	return res, res.Check(display)
}

// test executes the command line and reports whether it exited zero.
func (o *operations) test(ctx context.Context, cmd string) (bool, error) {
	res, err := o.channel.Exec(ctx, cmd, remote.ExecOptions{})
	if err != nil {
		return false, errors.Wrapf(err, "error running %q", cmd)
	}
	return res.ExitCode == 0, nil
}

// query executes the command line without streaming its output and returns
// its trimmed stdout.
func (o *operations) query(ctx context.Context, cmd string) (string, error) {
	res, err := o.channel.Exec(ctx, cmd, remote.ExecOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "error running %q", cmd)
	}
	if err = res.Check(cmd); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (o *operations) AppExists(ctx context.Context, app string) (bool, error) {
	return o.test(ctx, command("apps:exists", app))
}

func (o *operations) CreateApp(ctx context.Context, app string) error {
	_, err := o.run(ctx, command("apps:create", app))
	return err
}

func (o *operations) SetConfig(
	ctx context.Context,
	app string,
	values map[string]Value,
	restart bool,
) error {
	if len(values) == 0 {
		return nil
	}
	args := []string{"config:set"}
	if !restart {
		args = append(args, "--no-restart")
	}
	args = append(args, app)
	cmd := command(args[0], args[1:]...)
	for _, key := range sortedKeys(values) {
		cmd += " " + shellescape.Quote(key) + "=" + values[key].Expression()
	}
	_, err := o.run(ctx, cmd)
	return err
}

func (o *operations) ExportConfig(
	ctx context.Context,
	app string,
) (map[string]string, error) {
	out, err := o.query(ctx, command("config:export", "--format", "json", app))
	if err != nil {
		return nil, err
	}
	config := map[string]string{}
	if out == "" {
		return config, nil
	}
	if err = json.Unmarshal([]byte(out), &config); err != nil {
		return nil, errors.Wrapf(err, "error decoding config of app %q", app)
	}
	return config, nil
}

func (o *operations) Domains(ctx context.Context, app string) ([]string, error) {
	out, err := o.query(
		ctx,
		command("domains:report", app, "--domains-app-vhosts"),
	)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

func (o *operations) DatabaseExists(
	ctx context.Context,
	engine string,
	name string,
) (bool, error) {
	return o.test(ctx, engineCommand(engine, "exists", name))
}

func (o *operations) CreateDatabase(
	ctx context.Context,
	engine string,
	name string,
) error {
	_, err := o.run(ctx, engineCommand(engine, "create", name))
	return err
}

func (o *operations) DatabaseLinks(
	ctx context.Context,
	engine string,
	name string,
) ([]string, error) {
	out, err := o.query(ctx, engineCommand(engine, "links", name))
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

func (o *operations) LinkDatabase(
	ctx context.Context,
	engine string,
	name string,
	app string,
	alias string,
) error {
	_, err := o.run(
		ctx,
		engineCommand(engine, "link", name, app, "--alias", alias),
	)
	return err
}

func (o *operations) DatabaseDSN(
	ctx context.Context,
	engine string,
	name string,
) (string, error) {
	return o.query(ctx, engineCommand(engine, "info", name, "--dsn"))
}

func (o *operations) ExposedPorts(
	ctx context.Context,
	engine string,
	name string,
) ([]int, error) {
	out, err := o.query(ctx, engineCommand(engine, "info", name, "--exposed-ports"))
	if err != nil {
		return nil, err
	}
	return parseExposedPorts(out)
}

// parseExposedPorts parses output such as "5432->31337 8080->31338" into the
// host ports. A lone "-" means nothing is exposed.
func parseExposedPorts(out string) ([]int, error) {
	ports := []int{}
	for _, field := range strings.Fields(out) {
		if field == "-" {
			continue
		}
		hostPort := field
		if i := strings.Index(field, "->"); i >= 0 {
			hostPort = field[i+2:]
		}
		port, err := strconv.Atoi(hostPort)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing exposed port %q", field)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func (o *operations) ExposeDatabase(
	ctx context.Context,
	engine string,
	name string,
	ports ...int,
) error {
	args := []string{name}
	for _, port := range ports {
		args = append(args, strconv.Itoa(port))
	}
	_, err := o.run(ctx, engineCommand(engine, "expose", args...))
	return err
}

func (o *operations) UnexposeDatabase(
	ctx context.Context,
	engine string,
	name string,
) error {
	_, err := o.run(ctx, engineCommand(engine, "unexpose", name))
	return err
}

func (o *operations) ClearBuildArgs(ctx context.Context, app string) error {
	_, err := o.run(ctx, command("docker-options:clear", app, "build"))
	return err
}

func (o *operations) AddBuildArg(
	ctx context.Context,
	app string,
	key string,
	value Value,
) error {
	var option string
	if value.IsDeferred() {
		option = `"--build-arg ` + key + `=$(` + value.Deferred + `)"`
	} else {
		option = shellescape.Quote("--build-arg " + key + "=" + value.Text)
	}
	_, err := o.run(
		ctx,
		command("docker-options:add", app, "build")+" "+option,
	)
	return err
}

func (o *operations) SyncGit(
	ctx context.Context,
	app string,
	repository string,
	branch string,
) error {
	args := []string{"--build", app, repository}
	if branch != "" {
		args = append(args, branch)
	}
	_, err := o.run(ctx, command("git:sync", args...))
	return err
}

func (o *operations) RegistryLogin(
	ctx context.Context,
	server string,
	username string,
	password string,
) error {
	login := command("registry:login", "--password-stdin", server, username)
	_, err := o.runAs(
		ctx,
		"echo "+shellescape.Quote(password)+" | "+login,
		login,
	)
	return err
}

func (o *operations) SetPorts(
	ctx context.Context,
	app string,
	mappings ...PortMapping,
) error {
	args := []string{app}
	for _, mapping := range mappings {
		args = append(args, mapping.String())
	}
	_, err := o.run(ctx, command("ports:set", args...))
	return err
}

func (o *operations) DeployImage(
	ctx context.Context,
	app string,
	image string,
) error {
	_, err := o.run(ctx, command("git:from-image", app, image))
	return err
}

func (o *operations) Close() error {
	return o.channel.Close()
}

func sortedKeys(values map[string]Value) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
