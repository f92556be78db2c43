package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/workflow"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "load-batch",
		Short: "Offline tools for the load validator",
	}
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func processCmd() *cobra.Command {
	var inPath, outPath string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Decide every load in a newline-delimited JSON file",
		Long: `Reads one load per line ({"id","customer_id","load_amount","time"}) and writes
one {"id","customer_id","accepted"} line per decided load. Unreadable lines are
logged and skipped.

Backends follow the server env (LEDGER_BACKEND, LOCK_BACKEND, DB_*, REDIS_*).

Examples:
  load-batch process --in input.txt --out output.txt
  LEDGER_BACKEND=bolt LOCK_BACKEND=local load-batch process < input.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProcess(ctx, inPath, outPath)
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file, - for stdout")
	return cmd
}

func runProcess(ctx context.Context, inPath, outPath string) error {
	logger := config.GetLogger()
	// Keep stdout for responses.
	logger.SetOutput(os.Stderr)

	limits, err := config.LoadVelocityLimitsFromEnv()
	if err != nil {
		return fmt.Errorf("invalid velocity limits: %w", err)
	}

	var in io.Reader = os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	var out io.Writer = os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	backends, err := workflow.OpenBackends()
	if err != nil {
		return err
	}
	defer backends.Close()
	defer config.ClosePubSub()

	engine := workflow.NewLoadDecisionEngineFromEnv(backends, limits, logger)
	summary, err := workflow.ProcessLoadBatch(ctx, engine, logger, in, out)
	if err != nil {
		return fmt.Errorf("batch stopped after %d lines: %w", summary.Lines, err)
	}
	fmt.Fprintf(os.Stderr, "lines=%d decided=%d accepted=%d skipped=%d\n",
		summary.Lines, summary.Decided, summary.Accepted, summary.Skipped)
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the load_records table in MySQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ConnectDatabaseWithRetry()
			if config.GetDB() == nil {
				return fmt.Errorf("database not initialized (config.GetDB returned nil)")
			}
			models.MigrateTable()
			fmt.Println("load_records migrated")
			return nil
		},
	}
}
