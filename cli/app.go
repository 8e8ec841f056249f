// Package cli contains the posecam command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	runFlagFake     = "fake"
	runFlagSVG      = "svg"
	runFlagPNG      = "png"
	runFlagDuration = "duration"
	runFlagRecord   = "record"
)

// NewApp returns the posecam app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "posecam",
		Usage:           "estimate human poses from a camera",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run pose estimation and write the overlay for every pose",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     generalFlagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
					&cli.BoolFlag{
						Name:  runFlagFake,
						Usage: "use a synthetic camera instead of the configured source",
					},
					&cli.PathFlag{
						Name:  runFlagSVG,
						Usage: "write the overlay of the latest pose as SVG to `FILE`",
					},
					&cli.PathFlag{
						Name:  runFlagPNG,
						Usage: "write the overlay of the latest pose as PNG to `FILE`",
					},
					&cli.DurationFlag{
						Name:  runFlagDuration,
						Usage: "stop after this long instead of waiting for a signal",
					},
					&cli.BoolFlag{
						Name:  runFlagRecord,
						Usage: "record the camera for the whole run",
					},
				},
				Action: RunAction,
			},
			{
				Name:  "validate",
				Usage: "check a configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     generalFlagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
				},
				Action: ValidateAction,
			},
		},
	}
}
