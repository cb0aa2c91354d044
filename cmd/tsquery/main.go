package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/tsquery/tsquery/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
)

// CLI is the root command. Connection flags override the selected profile.
type CLI struct {
	Verbose int    `short:"v" type:"counter" help:"Increase log verbosity (-v info, -vv debug)"`
	LogFile string `help:"Write logs to this file instead of stderr" env:"TSQUERY_LOG_FILE"`
	Config  string `short:"F" help:"Path to config file (yaml, json or cue)" env:"TSQUERY_CONFIG" default:"~/.config/tsquery/config.yaml"`
	Profile string `short:"P" help:"Config profile to use" env:"TSQUERY_PROFILE"`

	Connection ConnectionFlags `embed:"" prefix:""`

	Exec    ExecCLI          `cmd:"" help:"Run one command and print the reply"`
	Listen  ListenCLI        `cmd:"" help:"Register for notifications and print them"`
	Shell   ShellCLI         `cmd:"" help:"Interactive query shell"`
	Gateway GatewayCLI       `cmd:"" help:"Serve commands over HTTP"`
	Version kong.VersionFlag `help:"Print version and exit"`
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("tsquery"),
		kong.Description("TeamSpeak 3 query client"),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("%s (%s)", version, commit)},
	)

	logger, closeLog, err := setupLogger(cli.Verbose, cli.LogFile)
	kctx.FatalIfErrorf(err)
	defer closeLog()

	val, err := loadConfig(cli.Config)
	kctx.FatalIfErrorf(err)
	file, err := config.FromValue(val)
	kctx.FatalIfErrorf(err)

	profile, err := cli.Connection.resolve(file, cli.Profile)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(logger, profile, file, val)
	if err != nil {
		logger.Error("command failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func setupLogger(verbose int, path string) (*slog.Logger, func(), error) {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(expandHome(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	logger := slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    path != "",
	}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// loadConfig returns an empty value when the default path does not exist.
func loadConfig(path string) (cue.Value, error) {
	path = expandHome(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cue.Value{}, nil
	}
	return config.LoadValue(path)
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + "/" + rest
}
