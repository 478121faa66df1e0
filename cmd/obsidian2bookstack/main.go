package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/obsidian2bookstack/internal"
	pkgconfig "github.com/starford/obsidian2bookstack/pkg/config"
)

var version = "dev"

func command(c internal.Command) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return cli.Exit(fmt.Sprintf("failed to parse config: %v", err), internal.ExitFatal)
		}

		if c == internal.CommandSync && cmd.Bool("dry-run") {
			c = internal.CommandPlan
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithCommand(c),
			internal.WithJSON(cmd.Bool("json")),
			internal.WithEventsAddr(cmd.String("events-addr")),
			internal.WithHistoryLimit(int(cmd.Int("limit"))),
			internal.WithVersion(version),
		}

		code, err := internal.Run(ctx, opts...)
		if err != nil {
			return cli.Exit(fmt.Sprintf("app run error: %v", err), code)
		}
		if code != internal.ExitOK {
			return cli.Exit("", code)
		}
		return nil
	}
}

func main() {
	eventsFlag := &cli.StringFlag{
		Name:    "events-addr",
		Usage:   "Serve run progress as Server-Sent Events on this address (e.g. :8090)",
		Sources: cli.EnvVars("O2B_EVENTS_ADDR"),
	}

	cmd := &cli.Command{
		Name:    "obsidian2bookstack",
		Usage:   "Push an Obsidian vault into a BookStack wiki",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print reports as JSON",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Create and update shelves, books, chapters, pages and attachments",
				Action: command(internal.CommandSync),
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Only print the plan",
					},
					eventsFlag,
				},
			},
			{
				Name:   "plan",
				Usage:  "Print what sync would change without touching the wiki",
				Action: command(internal.CommandPlan),
				Flags:  []cli.Flag{eventsFlag},
			},
			{
				Name:   "history",
				Usage:  "List recorded runs",
				Action: command(internal.CommandHistory),
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs",
						Value: 20,
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve plan, sync and history as MCP tools over stdio",
				Action: command(internal.CommandMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(internal.ExitFatal)
	}
}
