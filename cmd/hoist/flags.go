package main

import "github.com/urfave/cli/v2"

const (
	flagAddress         = "address"
	flagFile            = "file"
	flagHost            = "host"
	flagID              = "id"
	flagKeyFile         = "key-file"
	flagLimit           = "limit"
	flagName            = "name"
	flagOutput          = "output"
	flagOverlayHostname = "overlay-hostname"
	flagPassword        = "password"
	flagPort            = "port"
	flagQueue           = "queue"
	flagTemplate        = "template"
	flagTenant          = "tenant"
	flagUser            = "user"
	flagWork            = "work"
)

var (
	cliFlagOutput = &cli.StringFlag{
		Name:    flagOutput,
		Aliases: []string{"o"},
		Usage: "Return output in the specified format; supported formats: table, " +
			"yaml, json",
		Value: "table",
	}
)
