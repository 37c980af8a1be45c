package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeledger/internal/app"
	"stakeledger/internal/batch"
	"stakeledger/internal/config"
)

func applyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a JSONL operations file to the ledger",
		RunE:  runApply,
	}

	cmd.Flags().String("in", "", "input operations JSONL")
	cmd.Flags().String("results", "./data/results.jsonl", "applied operations JSONL")
	cmd.Flags().String("errors", "./data/apply_errors.jsonl", "rejected operations JSONL")
	cmd.Flags().String("checkpoint", "./data/apply_checkpoint.json", "checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	return cmd
}

func runApply(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadApply(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Results == "" {
		return fmt.Errorf("results path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg.Config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("apply start",
		zap.String("in", cfg.In),
		zap.String("results", cfg.Results),
		zap.String("errors", cfg.Errors),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	runner := batch.NewRunner(batch.RunConfig{
		In:                cfg.In,
		Results:           cfg.Results,
		Errors:            cfg.Errors,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		Decimals:          cfg.Decimals,
	}, a, logger)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d, failed %d, skipped %d\n", summary.Applied, summary.Failed, summary.Skipped)
	return nil
}
