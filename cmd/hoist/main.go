package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/krancour/hoist/internal/version"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "hoist",
		Usage:   "Deploy templates of apps and databases onto remote hosts",
		Version: version.Version(),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the REST API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagWork,
						Usage: "Also run job handlers in this process",
					},
				},
				Action: serve,
			},
			{
				Name:   "work",
				Usage:  "Run job handlers until interrupted",
				Action: work,
			},
			{
				Name:  "deploy",
				Usage: "Deploy a template onto a host and wait for the outcome",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagTemplate,
						Aliases:  []string{"t"},
						Usage:    "Deploy the template with the specified ID (required)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     flagHost,
						Usage:    "Deploy onto the host with the specified ID (required)",
						Required: true,
					},
					cliFlagOutput,
				},
				Action: deploy,
			},
			{
				Name:  "host",
				Usage: "Manage hosts",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Register a remote host",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     flagName,
								Usage:    "A name for the host (required)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     flagAddress,
								Usage:    "The host's address (required)",
								Required: true,
							},
							&cli.IntFlag{
								Name:  flagPort,
								Usage: "The host's SSH port",
								Value: 22,
							},
							&cli.StringFlag{
								Name:  flagUser,
								Usage: "The SSH user",
								Value: "root",
							},
							&cli.StringFlag{
								Name:  flagKeyFile,
								Usage: "A private key to authenticate with",
							},
							&cli.StringFlag{
								Name:  flagPassword,
								Usage: "A password to authenticate with if no key is given",
							},
							&cli.StringFlag{
								Name:  flagOverlayHostname,
								Usage: "The host's name on the overlay network, if any",
							},
							&cli.StringFlag{
								Name:  flagTenant,
								Usage: "The tenant the host belongs to",
							},
						},
						Action: hostAdd,
					},
				},
			},
			{
				Name:  "template",
				Usage: "Manage templates",
				Subcommands: []*cli.Command{
					{
						Name:  "import",
						Usage: "Validate and store a template read from a YAML or JSON file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:      flagFile,
								Aliases:   []string{"f"},
								Usage:     "The template file (required)",
								Required:  true,
								TakesFile: true,
							},
						},
						Action: templateImport,
					},
				},
			},
			{
				Name:      "classify",
				Usage:     "Classify variable expressions",
				ArgsUsage: "EXPRESSION...",
				Action:    classify,
			},
			{
				Name:  "job",
				Usage: "Inspect jobs",
				Subcommands: []*cli.Command{
					{
						Name:  "get",
						Usage: "Retrieve a job",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     flagQueue,
								Aliases:  []string{"q"},
								Usage:    "The job's queue (required)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     flagID,
								Aliases:  []string{"i"},
								Usage:    "The job's ID (required)",
								Required: true,
							},
							cliFlagOutput,
						},
						Action: jobGet,
					},
				},
			},
			{
				Name:      "logs",
				Usage:     "Print the recent messages of a channel",
				ArgsUsage: "CHANNEL",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagLimit,
						Usage: "Print at most this many messages",
						Value: 100,
					},
				},
				Action: logs,
			},
		},
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n\n", err)
		os.Exit(1)
	}
}
