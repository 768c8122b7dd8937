package main

import (
	"github.com/urfave/cli/v3"

	"agentdesk/internal/config"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "agentdesk",
		Usage: "Dispatch goals to coding agents and retry until they land",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   config.Path(),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newRouteCommand(),
			newTasksCommand(),
			newMemoryCommand(),
			newReviewCommand(),
			newSessionsCommand(),
			newSendCommand(),
			newSummaryCommand(),
			newScanCommand(),
		},
	}
}
