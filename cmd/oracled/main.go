package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := cli.NewApp()
	app.Name = "oracled"
	app.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	app.Usage = "Reference oracle announcing events and attesting their outcomes"
	app.Commands = append(
		cli.Commands{},
		serveCmd,
		announceCmd,
		attestCmd,
	)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
