// Command migrate manages the gangboard schema.
//
// Usage:
//
//	migrate up                # apply pending migrations
//	migrate down              # roll back the latest migration
//	migrate up-to <version>   # apply up to and including version
//	migrate down-to <version> # roll back to version
//	migrate status            # list migrations and when they were applied
//	migrate version           # print the current schema version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/gangboard/internal/config"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/migrations"
)

const usage = "usage: migrate up | down | up-to <version> | down-to <version> | status | version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, "text")
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		logger.Error("failed to load migrations", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, p, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p *goose.Provider, command string, args []string) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		printResults(results)
		return err
	case "down":
		r, err := p.Down(ctx)
		if r != nil {
			printResults([]*goose.MigrationResult{r})
		}
		return err
	case "up-to", "down-to":
		if len(args) != 1 {
			return fmt.Errorf("%s needs a version", command)
		}
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad version %q", args[0])
		}
		var results []*goose.MigrationResult
		if command == "up-to" {
			results, err = p.UpTo(ctx, v)
		} else {
			results, err = p.DownTo(ctx, v)
		}
		printResults(results)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%5d  %-20s %s\n", s.Source.Version, applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", command, usage)
}

func printResults(results []*goose.MigrationResult) {
	for _, r := range results {
		fmt.Printf("%-4s %5d  %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration)
	}
}
