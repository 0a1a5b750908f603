package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/cmd/meridian/cli"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	var exitErr error
	switch os.Args[1] {
	case "jobs":
		exitErr = runJobs(ctx, cfg, os.Args[2:])
	case "check":
		exitErr = runCheck(ctx, cfg)
	case "void":
		exitErr = runVoid(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if exitErr != nil {
		fmt.Fprintln(os.Stderr, exitErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  meridian jobs trigger <task>   enqueue a background task out of schedule
  meridian jobs stats            show queue metrics
  meridian check                 run the ledger and layer integrity checks
  meridian void -entry <id> -reason <text> [-actor <id>]`)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) < 1 {
		usage()
		return fmt.Errorf("jobs: subcommand required")
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: task name required")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("jobs: unknown subcommand %s", args[0])
	}
}

func runCheck(ctx context.Context, cfg *app.Config) error {
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledgerService := ledger.NewService(ledger.NewRepository(pool), nil)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), nil)

	ledgerCLI := cli.NewLedgerCLI(ledgerService, inventoryService, nil)
	total, err := ledgerCLI.Check(ctx, os.Stdout, decimal.NewFromFloat(0.0001))
	if err != nil {
		return err
	}
	if total > 0 {
		return fmt.Errorf("%d drift(s) found", total)
	}
	return nil
}

func runVoid(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("void", flag.ContinueOnError)
	entryID := fs.Int64("entry", 0, "journal entry id")
	reason := fs.String("reason", "", "void reason")
	actorID := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entryID == 0 {
		return fmt.Errorf("void: -entry required")
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledgerService := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool))
	ledgerCLI := cli.NewLedgerCLI(nil, nil, ledgerService)
	entry, err := ledgerCLI.Void(ctx, *entryID, *reason, *actorID)
	if err != nil {
		return err
	}
	fmt.Printf("voided %s (id=%d)\n", entry.Number, entry.ID)
	return nil
}
