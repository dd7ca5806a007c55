package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stormcast/stormcast-backend/internal/config"
	"github.com/stormcast/stormcast-backend/pkg/kv/postgres"
)

const usage = "Usage: migrate [-dsn DSN] [-timeout D] COMMAND\n\nCommands:\n  up\n  down\n  status"

var errUsage = errors.New(usage)

type options struct {
	dsn     string
	timeout time.Duration
	command string
}

// parseArgs reads flags followed by exactly one command.
func parseArgs(args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.StringVar(&opts.dsn, "dsn", "", "postgres DSN (defaults to STC_POSTGRES_DSN)")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "overall timeout")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() != 1 {
		return options{}, errUsage
	}

	opts.command = flags.Arg(0)
	switch opts.command {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unknown command: %s\n\n%w", opts.command, errUsage)
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}

	if opts.dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		opts.dsn = cfg.Store.PostgresDSN
	}
	if opts.dsn == "" {
		log.Fatal("No postgres DSN: pass -dsn or set STC_POSTGRES_DSN")
	}

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	switch opts.command {
	case "up":
		err = postgres.Migrate(ctx, db)
	case "down":
		err = postgres.Rollback(ctx, db)
	case "status":
		err = postgres.Status(ctx, db)
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", opts.command, err)
	}
}
