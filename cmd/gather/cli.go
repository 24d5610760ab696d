package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/gather/internal/collector"
	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/dedup"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/fetch"
	"github.com/hpungsan/gather/internal/mcp"
	"github.com/hpungsan/gather/internal/ops"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/scheduler"
	"github.com/hpungsan/gather/internal/sink"
	"github.com/hpungsan/gather/internal/tracker"
	"github.com/hpungsan/gather/internal/web"
)

// env holds what every command needs.
type env struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger

	// httpClient is nil in production; tests point it at a fake source.
	httpClient *http.Client
	stdout     io.Writer
	now        func() time.Time
}

func newEnv(db *sql.DB, cfg *config.Config, logger *zap.Logger) *env {
	return &env{db: db, cfg: cfg, logger: logger, stdout: os.Stdout, now: time.Now}
}

// newCLIApp creates the CLI application with all commands.
// e is nil for --help and --version, which never reach an Action.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "gather",
		Usage:   "Windowed collection client",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(e),
			onceCmd(e),
			statusCmd(e),
			cyclesCmd(e),
			filesCmd(e),
			reindexCmd(e),
			seenCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command.
func runCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Collect on a fixed interval until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "status", Usage: "Serve the read-only HTTP status endpoints (overrides status.enabled)"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			coll, err := e.pipeline(ctx)
			if err != nil {
				return outputError(err)
			}

			sched := scheduler.New(coll, e.cfg.IntervalDuration(), e.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return sched.Run(gctx)
			})
			if e.cfg.Status.Enabled || c.Bool("status") {
				srv := web.NewServer(e.db, e.cfg, e.sink(), sched, Version, e.logger)
				g.Go(func() error {
					return web.Run(gctx, srv, e.logger)
				})
			}

			if err := g.Wait(); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// onceCmd creates the once command.
func onceCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Run a single collection cycle and print its outcome",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			coll, err := e.pipeline(ctx)
			if err != nil {
				return outputError(err)
			}

			out := coll.RunCycle(ctx)
			if err := e.outputJSON(out.Cycle()); err != nil {
				return err
			}
			if out.Err != nil {
				return outputError(out.Err)
			}
			return nil
		},
	}
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the watermark, seen keys, collected files and recent cycles",
		Action: func(c *cli.Context) error {
			output, err := ops.Status(c.Context, e.db, ops.StatusInput{
				Sink:         e.sink(),
				SourceURL:    e.cfg.SourceURL(),
				InitialStart: e.cfg.InitialStartTime(e.now()),
			})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		},
	}
}

// cyclesCmd creates the cycles command.
func cyclesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "cycles",
		Usage:     "List the cycle history, or show one cycle by ID",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by outcome: succeeded|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				output, err := ops.GetCycle(c.Context, e.db, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				return e.outputJSON(output)
			}

			output, err := ops.ListCycles(c.Context, e.db, ops.ListCyclesInput{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		},
	}
}

// filesCmd creates the files command.
func filesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "List collected files, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListFiles(e.sink(), ops.ListFilesInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		},
	}
}

// reindexCmd creates the reindex command.
func reindexCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the seen-key set from the collected files",
		Description: "Stop a running collector first. It filters against the seen set it loaded\n" +
			"at startup and does not see the rebuilt keys until restarted.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be indexed without writing"},
		},
		Action: func(c *cli.Context) error {
			keys, err := e.keySpec()
			if err != nil {
				return outputError(err)
			}
			dd := dedup.New(keys, e.cfg.Collection.RetentionCycles, dedup.SQLStore{DB: e.db}, e.logger)

			output, err := ops.Reindex(c.Context, ops.ReindexInput{
				Sink:      e.sink(),
				Dedup:     dd,
				Retention: e.cfg.Collection.RetentionCycles,
				DryRun:    c.Bool("dry-run"),
			}, e.logger)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		},
	}
}

// seenCmd creates the seen command.
func seenCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "seen",
		Usage:     "Report whether a record identity is already in the SeenSet",
		ArgsUsage: "<value>...",
		Action: func(c *cli.Context) error {
			keys, err := e.keySpec()
			if err != nil {
				return outputError(err)
			}
			dd := dedup.New(keys, e.cfg.Collection.RetentionCycles, dedup.SQLStore{DB: e.db}, e.logger)

			output, err := ops.Seen(c.Context, ops.SeenInput{Dedup: dd, Values: c.Args().Slice()})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve read-only status tools over MCP stdio",
		Action: func(c *cli.Context) error {
			if err := mcp.Run(e.db, e.cfg, e.sink(), Version); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// pipeline wires tracker, fetch client, deduplicator, sink and history into a collector.
func (e *env) pipeline(ctx context.Context) (*collector.Collector, error) {
	keys, err := e.keySpec()
	if err != nil {
		return nil, err
	}

	tr := tracker.New(tracker.SQLStore{DB: e.db}, e.cfg.InitialStartTime(e.now()), e.logger)

	client := fetch.New(fetch.Options{
		URL:        e.cfg.SourceURL(),
		LimitYn:    e.cfg.API.LimitYn,
		MaxRecords: e.cfg.Collection.MaxRecords,
		KeySpec:    keys,
		Retry: fetch.RetryPolicy{
			MaxAttempts:    e.cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(e.cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(e.cfg.Retry.MaxBackoffMS) * time.Millisecond,
		},
		RequestTimeout:    e.cfg.RequestTimeout(),
		RequestsPerSecond: e.cfg.API.RequestsPerSecond,
	}, e.httpClient, e.logger)

	dd := dedup.New(keys, e.cfg.Collection.RetentionCycles, dedup.SQLStore{DB: e.db}, e.logger)
	if err := dd.Load(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("pipeline ready",
		zap.String("source", e.cfg.SourceURL()),
		zap.Strings("key_fields", keys.Fields()),
		zap.Int("max_records", client.MaxRecords()),
		zap.Int("seen_keys", dd.Count()),
		zap.Int64("generation", dd.Generation()),
	)

	return collector.New(collector.Options{
		Tracker:      tr,
		Fetcher:      client,
		Dedup:        dd,
		Sink:         e.sink(),
		History:      collector.SQLHistory{DB: e.db},
		Logger:       e.logger,
		CycleTimeout: e.cfg.CycleTimeoutDuration(),
	}), nil
}

func (e *env) keySpec() (record.KeySpec, error) {
	keys, err := record.NewKeySpec(e.cfg.Collection.KeyFields)
	if err != nil {
		return record.KeySpec{}, errors.NewInvalidRequest(fmt.Sprintf("collection.key_fields: %v", err))
	}
	return keys, nil
}

func (e *env) sink() *sink.Sink {
	return sink.New(e.cfg.DataDirectory, e.logger)
}

// outputJSON marshals result to stdout as JSON.
func (e *env) outputJSON(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if gErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", gErr.Code, gErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
