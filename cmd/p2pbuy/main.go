package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := cli.NewApp()

	app.Name = "p2pbuy"
	app.Version = version
	app.Usage = "buy stablecoins from escrowed P2P orders with an off-chain fiat payment"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML/JSON config file",
			EnvVars: []string{"P2P_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override log level (debug, info, warn, error)",
		},
	}
	app.Commands = append(
		app.Commands,
		&ordersCmd,
		&quoteCmd,
		&buyCmd,
		&uploadCmd,
		&watchCmd,
		&serveCmd,
		&sellerCmd,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[p2pbuy] %v\n", err)
	os.Exit(1)
}
