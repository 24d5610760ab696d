package main

import (
	"fmt"
	"os"

	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/logging"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return true
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

func main() {
	os.Exit(run())
}

func run() int {
	// Handle --help/--version before config and DB init
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(cfg.StateDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize state index: %v\n", err)
		return 1
	}
	defer database.Close()

	app := newCLIApp(newEnv(database, cfg, logger))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
