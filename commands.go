package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryan-buckman/inkwell/internal/config"
	"github.com/bryan-buckman/inkwell/internal/database"
	"github.com/bryan-buckman/inkwell/internal/logging"
	"github.com/bryan-buckman/inkwell/internal/metrics"
	"github.com/bryan-buckman/inkwell/internal/reader"
	"github.com/bryan-buckman/inkwell/internal/rss"
	"github.com/bryan-buckman/inkwell/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func rootApp() *cli.App {
	return &cli.App{
		Name:  "inkwell",
		Usage: "A personal feed reader",
		Description: `Subscribe to RSS, Atom and JSON feeds, read their entries and keep
track of what has been read.

Settings come from defaults, an optional TOML file (--config) and
INKWELL_* environment variables, e.g.:

INKWELL_DATABASE=feeds.db
INKWELL_ADDR=localhost:4000`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"INKWELL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			subscribeCmd(),
			feedsCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return cli.ShowAppHelp(ctx)
		},
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *database.DB
	registry *prometheus.Registry
	reader   *reader.Service
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := openStore(c.Context, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fetcher := rss.NewFetcher(rss.FetcherOptions{
		Timeout:        cfg.FetchTimeout,
		UserAgent:      cfg.UserAgent,
		MaxBytes:       cfg.MaxFeedBytes,
		PerHostFetches: cfg.PerHostFetches,
		PerHostDelay:   cfg.PerHostDelay,
	}, m)
	ingester := rss.NewIngester(db, fetcher, rss.NewParser(), cfg.IngestTimeout, m, log)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: reg,
		reader:   reader.New(db, ingester, cfg.ImportConcurrency, m, log),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*database.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return database.NewPostgres(ctx, cfg.PostgresURL, log)
	default:
		return database.New(ctx, cfg.DatabasePath, database.Options{BusyTimeout: cfg.BusyTimeout}, log)
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the reader over HTTP",
		Description: `Opens (and migrates) the database, then serves the HTTP API on the
configured address until interrupted.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address, overrides the configured one",
				EnvVars: []string{"INKWELL_SERVE_ADDR"},
			},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.close()

			addr := lo.Ternary(c.String("addr") != "", c.String("addr"), a.cfg.Addr)
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(a.reader, a.registry, a.log).Run(ctx, addr)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Brings the configured database to the latest schema version. Creates the database if it does not exist.`,
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.close()

			version, err := a.db.SchemaVersion(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s schema at version %d\n", a.db.DatabaseType(), version)
			return nil
		},
	}
}

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to a feed",
		ArgsUsage: "<feed-url>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("subscribe takes exactly one feed URL, got %d arguments", c.NArg())
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.close()

			feed, err := a.reader.Subscribe(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", feed.ID, feed.Title, feed.FeedLink)
			return nil
		},
	}
}

func feedsCmd() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "List subscribed feeds with unread and read counts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print one JSON object per feed",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.close()

			summaries, err := a.reader.ListFeeds(c.Context)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			for _, s := range summaries {
				if c.Bool("json") {
					if err := enc.Encode(server.FeedSummaryView{}.From(&s)); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(c.App.Writer, "%d\t%d unread\t%d read\t%s\n", s.ID, s.UnreadEntries, s.ReadEntries, s.Title)
			}
			return nil
		},
	}
}
