package main

import (
	"context"
	"fmt"
	"os"

	"github.com/testwarden/testwarden/internal/cli"
	"github.com/testwarden/testwarden/internal/logger"
	urfavecli "github.com/urfave/cli/v3"
)

const version = "1.0.0"

func main() {
	app := &urfavecli.Command{
		Name:    "testwarden",
		Usage:   "Run Python test suites locally or in ephemeral containers",
		Version: version,
		Flags: []urfavecli.Flag{
			&urfavecli.StringFlag{
				Name:  "allowed-root",
				Usage: "Directory that project paths must resolve under",
			},
			&urfavecli.StringFlag{
				Name:  "store",
				Usage: "Result store backend (memory, file, or postgres)",
			},
			&urfavecli.StringFlag{
				Name:    "connection",
				Aliases: []string{"c"},
				Usage:   "PostgreSQL connection string (URI or key=value format). Supports standard PG* environment variables.",
			},
			&urfavecli.StringFlag{
				Name:  "state-dir",
				Usage: "State directory for the file store",
			},
			&urfavecli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug output",
			},
		},
		Commands: []*urfavecli.Command{
			{
				Name:      "run",
				Usage:     "Run a project's test suite and store the result",
				ArgsUsage: "PROJECT_PATH",
				Action:    runCommand,
				Flags: []urfavecli.Flag{
					&urfavecli.StringFlag{
						Name:  "tests",
						Usage: "Test file or directory relative to the project root",
					},
					&urfavecli.StringFlag{
						Name:  "runner",
						Usage: "Test runner (pytest, unittest, or nose2)",
						Value: "pytest",
					},
					&urfavecli.StringFlag{
						Name:  "mode",
						Usage: "Execution backend (local or container)",
						Value: "local",
					},
					&urfavecli.StringFlag{
						Name:  "image",
						Usage: "Container image for container mode",
					},
					&urfavecli.IntFlag{
						Name:  "max-tokens",
						Usage: "Token budget for the stored outcome",
					},
					&urfavecli.IntFlag{
						Name:  "max-failures",
						Usage: "Stop the run after this many failures (0 = run everything)",
					},
					&urfavecli.BoolFlag{
						Name:  "last-failed",
						Usage: "Re-run only the tests that failed last time",
					},
					&urfavecli.DurationFlag{
						Name:  "timeout",
						Usage: "Wall-clock timeout for the whole run",
					},
					&urfavecli.StringSliceFlag{
						Name:  "arg",
						Usage: "Extra argument passed through to the runner (repeatable)",
					},
					&urfavecli.BoolFlag{
						Name:  "allow-local-fallback",
						Usage: "Fall back to local execution when the container backend is unavailable",
					},
					&urfavecli.BoolFlag{
						Name:  "stream",
						Usage: "Echo runner output to stderr while the run is in progress",
					},
					&urfavecli.StringFlag{
						Name:  "format",
						Usage: "Output format (text or json)",
						Value: "text",
					},
				},
			},
			{
				Name:      "result",
				Usage:     "Show one stored run",
				ArgsUsage: "RUN_ID",
				Action:    resultCommand,
				Flags: []urfavecli.Flag{
					&urfavecli.StringFlag{
						Name:  "format",
						Usage: "Output format (text or json)",
						Value: "text",
					},
					&urfavecli.BoolFlag{
						Name:  "raw",
						Usage: "Print the full untruncated runner output",
					},
				},
			},
			{
				Name:   "results",
				Usage:  "List stored run ids",
				Action: resultsCommand,
			},
			{
				Name:      "last-failed",
				Usage:     "Show the tests that failed in a project's most recent run",
				ArgsUsage: "PROJECT_PATH",
				Action:    lastFailedCommand,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

// loadConfig builds the effective configuration from defaults plus the global
// flags.
func loadConfig(cmd *urfavecli.Command) (*cli.Config, error) {
	config := cli.DefaultConfig
	cli.ApplyFlagsToConfig(&config, cli.GlobalFlags{
		AllowedRoot: cmd.String("allowed-root"),
		Store:       cmd.String("store"),
		Connection:  cmd.String("connection"),
		StateDir:    cmd.String("state-dir"),
		Image:       cmd.String("image"),
		MaxTokens:   cmd.Int("max-tokens"),
		Timeout:     cmd.Duration("timeout"),
		AllowLocal:  cmd.Bool("allow-local-fallback"),
		Verbose:     cmd.Bool("verbose"),
	})
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger.SetVerbose(config.Verbose)
	return &config, nil
}

// runCommand handles the 'testwarden run' command
func runCommand(ctx context.Context, cmd *urfavecli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	projectPath := cmd.Args().First()
	if projectPath == "" {
		projectPath = "."
	}

	opts := cli.RunOptions{
		ProjectPath:   projectPath,
		TestPath:      cmd.String("tests"),
		Runner:        cmd.String("runner"),
		Mode:          cmd.String("mode"),
		Image:         cmd.String("image"),
		MaxTokens:     cmd.Int("max-tokens"),
		MaxFailures:   cmd.Int("max-failures"),
		RunLastFailed: cmd.Bool("last-failed"),
		Timeout:       cmd.Duration("timeout"),
		ExtraArgs:     cmd.StringSlice("arg"),
		Format:        cmd.String("format"),
		Stream:        cmd.Bool("stream"),
	}

	exitCode, err := cli.Run(ctx, config, opts)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// resultCommand handles the 'testwarden result' command
func resultCommand(ctx context.Context, cmd *urfavecli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("missing RUN_ID argument")
	}
	return cli.Result(ctx, config, id, cmd.String("format"), cmd.Bool("raw"))
}

// resultsCommand handles the 'testwarden results' command
func resultsCommand(ctx context.Context, cmd *urfavecli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return cli.Results(ctx, config)
}

// lastFailedCommand handles the 'testwarden last-failed' command
func lastFailedCommand(ctx context.Context, cmd *urfavecli.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	projectPath := cmd.Args().First()
	if projectPath == "" {
		return fmt.Errorf("missing PROJECT_PATH argument")
	}
	return cli.LastFailed(ctx, config, projectPath)
}
