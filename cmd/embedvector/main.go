// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/embedvector"
	"github.com/poiesic/embedvector/config"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/matching"
	"github.com/urfave/cli/v2"
)

// openSystem builds the System for a command. Tests replace it to inject a
// mock provider.
var openSystem = func(c *cli.Context, cfg *config.Config) (*embedvector.System, error) {
	return embedvector.New(cfg, embedvector.WithLogger(slog.Default()), embedvector.WithProgress(c.App.ErrWriter))
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "embedvector",
		Usage: "Batch embedding and vector matching for application records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"EMBEDVECTOR_CONFIG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "batch",
				Usage:     "Generate JSONL files for the given types and submit them as embedding batches",
				ArgsUsage: "[type...]",
				Action:    batchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Records to include: init (every record) or sync (records needing re-embedding)",
						Value: string(core.ModeSync),
					},
				},
			},
			{
				Name:   "process",
				Usage:  "Check open batches and ingest completed ones",
				Action: processCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "batch-id",
						Usage: "Ingest only this completed batch",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Poll batches until interrupted",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between polls (defaults to batch.poll_interval)",
					},
				},
			},
			{
				Name:   "embed",
				Usage:  "Embed the records of one type synchronously, without the batch API",
				Action: embedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Record type to embed",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Records to include: init or sync",
						Value: string(core.ModeInit),
					},
				},
			},
			{
				Name:   "match",
				Usage:  "Rank records of one type against a record of another",
				Action: matchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source-type",
						Usage:    "Type of the record to match from",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "source-id",
						Usage:    "Primary key of the record to match from",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "target",
						Usage:    "Type of the records to rank",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results",
						Value:   10,
					},
					&cli.StringFlag{
						Name:  "filter",
						Usage: `JSON filter on target fields, e.g. {"op":"eq","field":"status","value":"open"}`,
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Query strategy (auto, optimized, cross_connection); defaults to matching.strategy",
					},
				},
			},
		},
	}
}

func loadSystem(c *cli.Context) (*embedvector.System, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	return openSystem(c, cfg)
}

func batchCommand(c *cli.Context) error {
	mode, err := core.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}

	sys, err := loadSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	out, err := sys.Embed(c.Context, mode, c.Args().Slice()...)
	if err != nil {
		return fmt.Errorf("batch submission failed: %w", err)
	}
	return report(c, out, "batch submission")
}

func processCommand(c *cli.Context) error {
	sys, err := loadSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	var out core.Outcome
	if id := c.String("batch-id"); id != "" {
		out, err = sys.ProcessBatch(c.Context, id)
	} else {
		out, err = sys.Poll(c.Context)
	}
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}
	return report(c, out, "batch processing")
}

func watchCommand(c *cli.Context) error {
	sys, err := loadSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	interval := c.Duration("interval")
	if interval <= 0 {
		interval = sys.Config().Batch.PollInterval
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(c.App.ErrWriter, "Polling batches every %v\n", interval)
	return watch(ctx, sys, interval, func(out core.Outcome) {
		for _, m := range out.Messages {
			fmt.Fprintln(c.App.ErrWriter, m)
		}
	})
}

// watch polls until ctx is done. Poll errors are logged and the loop
// continues with the next tick.
func watch(ctx context.Context, sys *embedvector.System, interval time.Duration, emit func(core.Outcome)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		out, err := sys.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("poll failed", "err", err)
		} else {
			emit(out)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return nil
}

func embedCommand(c *cli.Context) error {
	mode, err := core.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}

	sys, err := loadSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	cfg := sys.Config()
	fmt.Fprintf(c.App.ErrWriter, "Storage: %s\n", cfg.Storage.Driver)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.Provider.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := sys.EmbedNow(c.Context, c.String("type"), mode); err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	return nil
}

func matchCommand(c *cli.Context) error {
	var expr *filter.Expr
	if raw := c.String("filter"); raw != "" {
		var err error
		if expr, err = filter.Parse([]byte(raw)); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}
	strategy := matching.Strategy(c.String("strategy"))
	if strategy != "" {
		if _, err := matching.ParseStrategy(string(strategy)); err != nil {
			return err
		}
	}

	sys, err := loadSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	src, err := sys.Registry().Source(c.String("source-type"))
	if err != nil {
		return err
	}
	found, err := src.Fetch(c.Context, []string{c.String("source-id")})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("%s record %s not found", c.String("source-type"), c.String("source-id"))
	}

	matches, err := sys.Match(c.Context, matching.Request{
		Source:     found[0],
		TargetType: c.String("target"),
		TopK:       c.Int("top-k"),
		Filter:     expr,
		Strategy:   strategy,
	})
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}

	for i, m := range matches {
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%.4f\t%.1f%%\n", i+1, m.Item.EmbeddingID(), m.Distance, m.MatchPercent)
	}
	return nil
}

// report prints the outcome messages and turns a failed outcome into an
// error so the process exits non-zero.
func report(c *cli.Context, out core.Outcome, what string) error {
	for _, m := range out.Messages {
		fmt.Fprintln(c.App.ErrWriter, m)
	}
	if !out.Success {
		return fmt.Errorf("%s reported failures", what)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
