package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/paths"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Path to sites.toml (or .yaml). Defaults to ./sites.toml, then ~/.autobuy/sites.toml." short:"c" type:"path"`
	Secrets  string `help:"Path to the secrets file. Defaults to secrets.toml next to the config." type:"path"`
	LogLevel string `help:"Log level (trace, debug, info, warn, error). Overrides [log] level." name:"log-level"`
	DataDir  string `help:"Data directory for state, logs and browser profiles." name:"data-dir" type:"path"`
}

// CLI is the command line of autobuy.
type CLI struct {
	Globals

	Run        RunCmd      `cmd:"" default:"1" help:"Run the configured groups until one completes."`
	Check      CheckCmd    `cmd:"" help:"Load and validate the config without starting a browser."`
	Status     StatusCmd   `cmd:"" help:"Show the state of the last run."`
	Stats      StatsCmd    `cmd:"" help:"Show step, group and restart statistics of the last run."`
	Profiles   ProfilesCmd `cmd:"" help:"Manage browser profiles."`
	SecretsCmd SecretsCmd  `cmd:"" name:"secrets" help:"Manage secrets used by {{secret:NAME}} placeholders."`
	Version    VersionCmd  `cmd:"" help:"Print the version."`
}

func main() {
	Init(&Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
	})

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("autobuy"),
		kong.Description("Configuration-driven browser step runner."),
		kong.UsageOnError(),
	)

	if cli.DataDir != "" {
		paths.SetBaseDir(cli.DataDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}
