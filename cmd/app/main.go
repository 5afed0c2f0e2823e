package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/deepnote/internal"
	"github.com/starford/deepnote/internal/apperr"
	pkgconfig "github.com/starford/deepnote/pkg/config"
)

// loadConfig reads the config file, when present, and applies flag and
// environment overrides on top of it.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}
	if v := cmd.String("queue-file"); v != "" {
		cfg.Queue.Path = v
	}
	if v := cmd.String("openai-key"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := cmd.String("policy"); v != "" {
		cfg.Pipeline.CollisionPolicy = v
	}
	if v := cmd.String("log-level"); v != "" {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", v, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// withApp opens the App for one command and closes it afterwards.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.Open(internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func researchCmd() *cli.Command {
	return &cli.Command{
		Name:      "research",
		Usage:     "Research a topic and write its note into the vault",
		ArgsUsage: "<topic>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			topic := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(topic) == "" {
				return fmt.Errorf("topic is required: %w", apperr.ErrInvalidConcept)
			}
			return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
				return app.Research(ctx, topic)
			})
		},
	}
}

func queueCmd() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and process the research queue",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pop", Usage: "Research entries from the front of the queue"},
			&cli.IntFlag{Name: "count", Usage: "Number of entries to pop", Value: 1},
			&cli.BoolFlag{Name: "list", Usage: "List queued concepts"},
			&cli.BoolFlag{Name: "clear", Usage: "Remove every queued concept"},
			&cli.StringFlag{Name: "check", Usage: "Report whether a note exists for `TOPIC`"},
			&cli.StringFlag{Name: "recover", Usage: "Queue the new concepts of the existing note for `TOPIC`"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
				switch {
				case cmd.Bool("pop"):
					return app.Pop(ctx, int(cmd.Int("count")))
				case cmd.Bool("clear"):
					return app.Clear()
				case cmd.String("check") != "":
					return app.Check(cmd.String("check"))
				case cmd.String("recover") != "":
					return app.Recover(ctx, cmd.String("recover"))
				default:
					return app.List()
				}
			})
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check the API key, vault and queue file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
				return app.Doctor(ctx)
			})
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the vault and queue over MCP on stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
				return app.ServeMCP(ctx)
			})
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "deepnote",
		Usage: "Research topics into a linked Markdown vault and queue the concepts they mention",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Vault directory",
				Sources: cli.EnvVars("PATH_TO_SAVE"),
			},
			&cli.StringFlag{
				Name:    "queue-file",
				Usage:   "Queue file",
				Sources: cli.EnvVars("DEEPNOTE_QUEUE_FILE"),
			},
			&cli.StringFlag{
				Name:    "openai-key",
				Usage:   "OpenAI API key",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "What to do when a note file already exists: skip, overwrite or version",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			researchCmd(),
			queueCmd(),
			doctorCmd(),
			mcpCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Debug("application error", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, apperr.Describe(err))
		os.Exit(1)
	}
}
