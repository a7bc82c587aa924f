package platform

import (
	"context"
	"testing"

	"github.com/krancour/hoist/internal/remote"
	"github.com/stretchr/testify/require"
)

type scriptedChannel struct {
	commands []string
	results  map[string]remote.Result
}

func (s *scriptedChannel) Exec(
	_ context.Context,
	command string,
	opts remote.ExecOptions,
) (remote.Result, error) {
	s.commands = append(s.commands, command)
	res := s.results[command]
	if opts.OnStdout != nil && res.Stdout != "" {
		opts.OnStdout([]byte(res.Stdout))
	}
	return res, nil
}

func (s *scriptedChannel) Close() error {
	return nil
}

func TestOperationsCommands(t *testing.T) {
	testCases := []struct {
		name     string
		op       func(context.Context, Operations) error
		expected string
	}{
		{
			name: "create app",
			op: func(ctx context.Context, ops Operations) error {
				return ops.CreateApp(ctx, "shop-web")
			},
			expected: "dokku apps:create shop-web",
		},
		{
			name: "set config",
			op: func(ctx context.Context, ops Operations) error {
				return ops.SetConfig(
					ctx,
					"shop-web",
					map[string]Value{
						"GREETING":     Literal("hello world"),
						"DATABASE_URI": Deferred(DeferredConfigValue("shop-web", "ORDERS_DB_URL")),
					},
					false,
				)
			},
			expected: `dokku config:set --no-restart shop-web ` +
				`DATABASE_URI="$(dokku config:get shop-web ORDERS_DB_URL)" ` +
				`GREETING='hello world'`,
		},
		{
			name: "link database",
			op: func(ctx context.Context, ops Operations) error {
				return ops.LinkDatabase(ctx, "Postgres", "orders-db", "shop-web", "ORDERS_DB")
			},
			expected: "dokku postgres:link orders-db shop-web --alias ORDERS_DB",
		},
		{
			name: "expose database",
			op: func(ctx context.Context, ops Operations) error {
				return ops.ExposeDatabase(ctx, "postgres", "orders-db", 31337)
			},
			expected: "dokku postgres:expose orders-db 31337",
		},
		{
			name: "deferred build arg",
			op: func(ctx context.Context, ops Operations) error {
				return ops.AddBuildArg(
					ctx,
					"shop-web",
					"DATABASE_URI",
					Deferred("dokku config:get shop-web DATABASE_URI"),
				)
			},
			expected: `dokku docker-options:add shop-web build ` +
				`"--build-arg DATABASE_URI=$(dokku config:get shop-web DATABASE_URI)"`,
		},
		{
			name: "literal build arg",
			op: func(ctx context.Context, ops Operations) error {
				return ops.AddBuildArg(ctx, "shop-web", "MODE", Literal("production"))
			},
			expected: `dokku docker-options:add shop-web build '--build-arg MODE=production'`,
		},
		{
			name: "sync git",
			op: func(ctx context.Context, ops Operations) error {
				return ops.SyncGit(ctx, "shop-web", "https://github.com/example/shop.git", "main")
			},
			expected: "dokku git:sync --build shop-web https://github.com/example/shop.git main",
		},
		{
			name: "set ports",
			op: func(ctx context.Context, ops Operations) error {
				return ops.SetPorts(
					ctx,
					"shop-api",
					PortMapping{HostPort: 80, ContainerPort: 8080},
				)
			},
			expected: "dokku ports:set shop-api http:80:8080",
		},
		{
			name: "deploy image",
			op: func(ctx context.Context, ops Operations) error {
				return ops.DeployImage(ctx, "shop-api", "ghcr.io/example/api:1.2")
			},
			expected: "dokku git:from-image shop-api ghcr.io/example/api:1.2",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ch := &scriptedChannel{}
			ops := NewOperations(ch, remote.ExecOptions{})
			require.NoError(t, testCase.op(context.Background(), ops))
			require.Equal(t, []string{testCase.expected}, ch.commands)
		})
	}
}

func TestOperationsQueries(t *testing.T) {
	ch := &scriptedChannel{
		results: map[string]remote.Result{
			"dokku config:export --format json shop-web": {
				Stdout: `{"GREETING":"hello"}` + "\n",
			},
			"dokku domains:report shop-web --domains-app-vhosts": {
				Stdout: "shop.example.com www.shop.example.com\n",
			},
			"dokku postgres:info orders-db --exposed-ports": {
				Stdout: "5432->31337\n",
			},
			"dokku postgres:exists orders-db": {ExitCode: 1},
		},
	}
	ops := NewOperations(ch, remote.ExecOptions{})
	ctx := context.Background()

	config, err := ops.ExportConfig(ctx, "shop-web")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"GREETING": "hello"}, config)

	domains, err := ops.Domains(ctx, "shop-web")
	require.NoError(t, err)
	require.Equal(t, []string{"shop.example.com", "www.shop.example.com"}, domains)

	ports, err := ops.ExposedPorts(ctx, "postgres", "orders-db")
	require.NoError(t, err)
	require.Equal(t, []int{31337}, ports)

	exists, err := ops.DatabaseExists(ctx, "postgres", "orders-db")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestOperationsCommandErrors(t *testing.T) {
	ch := &scriptedChannel{
		results: map[string]remote.Result{
			"dokku apps:create shop-web": {
				ExitCode: 1,
				Stderr:   "Name is already taken",
			},
		},
	}
	err := NewOperations(ch, remote.ExecOptions{}).
		CreateApp(context.Background(), "shop-web")
	require.Error(t, err)
	require.True(t, remote.IsCommandError(err))
}

func TestRegistryLoginRedactsPassword(t *testing.T) {
	ch := &scriptedChannel{
		results: map[string]remote.Result{
			"echo s3cret | dokku registry:login --password-stdin ghcr.io bot": {
				ExitCode: 1,
			},
		},
	}
	err := NewOperations(ch, remote.ExecOptions{}).
		RegistryLogin(context.Background(), "ghcr.io", "bot", "s3cret")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "s3cret")
}

func TestParseExposedPorts(t *testing.T) {
	testCases := []struct {
		out      string
		expected []int
	}{
		{out: "", expected: []int{}},
		{out: "-", expected: []int{}},
		{out: "5432->31337", expected: []int{31337}},
		{out: "6379->32000 16379->32001", expected: []int{32000, 32001}},
	}
	for _, testCase := range testCases {
		ports, err := parseExposedPorts(testCase.out)
		require.NoError(t, err)
		require.Equal(t, testCase.expected, ports)
	}
	_, err := parseExposedPorts("5432->abc")
	require.Error(t, err)
}
