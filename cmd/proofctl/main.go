// Command proofctl fingerprints, commits, packages and verifies documents
// locally. It needs no server: records live in a SQLite file and anchors go
// to the configured networks, or to an in-process ledger by default.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "proofctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "proofctl",
		Usage:   "create and verify document proofs offline",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "optional YAML configuration file",
				EnvVars: []string{"DOCPROOF_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: json or yaml",
				Value:   formatJSON,
			},
		},
		Before: func(c *cli.Context) error {
			_, err := formatOf(c)
			return err
		},
		Commands: []*cli.Command{
			fingerprintCommand(),
			commitCommand(),
			identityCommand(),
			packageCommand(),
			verifyOfflineCommand(),
		},
	}
}
