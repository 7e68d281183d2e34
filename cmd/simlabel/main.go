// Package main is the simlabel command: it replays recorded simulation runs through a labeling
// session and checks configs.
package main

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/logging"
)

const (
	// Flags.
	flagConfig   = "config"
	flagScene    = "scene"
	flagTicks    = "ticks"
	flagOutput   = "output"
	flagDebug    = "debug"
	flagSync     = "sync"
	flagProgress = "progress"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	configFlag := &cli.StringFlag{
		Name:     flagConfig,
		Aliases:  []string{"c"},
		Usage:    "load session configuration from `FILE`",
		Required: true,
	}
	return &cli.App{
		Name:   "simlabel",
		Usage:  "label simulated sensor frames with ground truth",
		Writer: out,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "replay",
				Usage: "replay a recorded run through a labeling session",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     flagScene,
						Usage:    "scenario description `FILE`",
						Required: true,
					},
					&cli.StringFlag{
						Name:     flagTicks,
						Usage:    "tick manifest `FILE` (one JSON tick per line)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "override the configured output directory",
					},
					&cli.BoolFlag{
						Name:  flagSync,
						Usage: "wait for every tick to be matched before feeding the next",
					},
					&cli.DurationFlag{
						Name:  flagProgress,
						Usage: "interval between progress log lines; zero disables them",
						Value: defaultProgressInterval,
					},
				},
				Action: ReplayCommand,
			},
			{
				Name:   "validate",
				Usage:  "check a config and report which sensors initialize",
				Flags:  []cli.Flag{configFlag},
				Action: ValidateCommand,
			},
		},
	}
}

// newLogger builds the command's logger from the config's log section. The returned closer
// releases the log file, if any.
func newLogger(c *cli.Context, cfg config.Log) (logging.Logger, io.Closer, error) {
	logger := logging.NewLogger("simlabel")
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	if cfg.File == nil {
		return logger, io.NopCloser(nil), nil
	}
	appender, closer, err := logging.NewFileAppender(*cfg.File)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening log file")
	}
	logger.AddAppender(appender)
	return logger, closer, nil
}
