// Package main is the posecam command.
package main

import (
	"os"

	"go.viam.com/posecam/cli"
	"go.viam.com/posecam/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Errorw("posecam failed", "error", err)
		os.Exit(1)
	}
}
