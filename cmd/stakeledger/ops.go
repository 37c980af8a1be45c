package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeledger/internal/app"
	"stakeledger/internal/auth"
	"stakeledger/internal/config"
	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/model"
)

type opFlags struct {
	caller bool
	pool   bool
	amount bool
}

func opsCommands() []*cobra.Command {
	return []*cobra.Command{
		opCommand("create-pool", "Create a new pool (admin only)", opFlags{caller: true}, runCreatePool),
		opCommand("deposit", "Deposit into a pool, settling any pending reward", opFlags{caller: true, pool: true, amount: true}, runDeposit),
		opCommand("withdraw", "Withdraw part of a stake plus pending reward", opFlags{caller: true, pool: true, amount: true}, runWithdraw),
		opCommand("withdraw-all", "Withdraw the entire stake plus pending reward", opFlags{caller: true, pool: true}, runWithdrawAll),
		opCommand("add-rewards", "Distribute rewards over current stakers (admin only)", opFlags{caller: true, pool: true, amount: true}, runAddRewards),
		opCommand("pending", "Show a participant's position and pending reward", opFlags{caller: true, pool: true}, runPending),
		opCommand("pools", "List pools", opFlags{}, runPools),
		opCommand("custody", "Show the custody account balance", opFlags{}, runCustody),
		opCommand("audit", "Check accounting invariants", opFlags{}, runAudit),
		opCommand("fund", "Mint tokens to an account and approve custody (memory token only)", opFlags{caller: true, amount: true}, runFund),
	}
}

type opArgs struct {
	caller common.Address
	pool   uint64
	amount *uint256.Int
}

type opFunc func(ctx context.Context, cmd *cobra.Command, a *app.App, args opArgs) (any, error)

func opCommand(use, short string, flags opFlags, run opFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOp(cmd, flags, run)
		},
	}
	if flags.caller {
		cmd.Flags().String("caller", "", "address performing the operation")
		_ = cmd.MarkFlagRequired("caller")
	}
	if flags.pool {
		cmd.Flags().Uint64("pool", 0, "pool id")
	}
	if flags.amount {
		cmd.Flags().String("amount", "", "amount in token units (e.g. 100 or 0.5)")
		_ = cmd.MarkFlagRequired("amount")
	}
	return cmd
}

func runOp(cmd *cobra.Command, flags opFlags, run opFunc) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var args opArgs
	if flags.caller {
		raw, _ := cmd.Flags().GetString("caller")
		if args.caller, err = auth.ParseAddress(raw); err != nil {
			return fmt.Errorf("caller: %w", err)
		}
	}
	if flags.pool {
		args.pool, _ = cmd.Flags().GetUint64("pool")
	}
	if flags.amount {
		raw, _ := cmd.Flags().GetString("amount")
		if args.amount, err = fixedpoint.ParseUnits(raw, cfg.Decimals); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, runErr := run(ctx, cmd, a, args)
	if out != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	if runErr != nil {
		logger.Error(cmd.Name()+" failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

func runCreatePool(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	var id uint64
	err := a.Mutate(ctx, model.OpCreatePool, func(ctx context.Context) error {
		var err error
		id, err = a.Ledger.CreatePool(ctx, args.caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	pool, err := a.Ledger.Pool(ctx, id)
	if err != nil {
		return nil, err
	}
	return pool.Record(), nil
}

func runDeposit(ctx context.Context, cmd *cobra.Command, a *app.App, args opArgs) (any, error) {
	err := a.Mutate(ctx, model.OpDeposit, func(ctx context.Context) error {
		return a.Ledger.Deposit(ctx, args.pool, args.caller, args.amount)
	})
	if err != nil {
		return nil, err
	}
	return runPending(ctx, cmd, a, args)
}

func runWithdraw(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	return withdraw(ctx, a, model.OpWithdraw, args, func(ctx context.Context) (*uint256.Int, error) {
		return a.Ledger.Withdraw(ctx, args.pool, args.caller, args.amount)
	})
}

func runWithdrawAll(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	return withdraw(ctx, a, model.OpWithdrawAll, args, func(ctx context.Context) (*uint256.Int, error) {
		return a.Ledger.WithdrawAll(ctx, args.pool, args.caller)
	})
}

func withdraw(ctx context.Context, a *app.App, op string, args opArgs, fn func(context.Context) (*uint256.Int, error)) (any, error) {
	var payout *uint256.Int
	err := a.Mutate(ctx, op, func(ctx context.Context) error {
		var err error
		payout, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pool_id":     args.pool,
		"participant": args.caller.Hex(),
		"payout":      fixedpoint.FormatUnits(payout, a.Config.Decimals),
	}, nil
}

func runAddRewards(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	err := a.Mutate(ctx, model.OpAddRewards, func(ctx context.Context) error {
		return a.Ledger.AddRewards(ctx, args.pool, args.caller, args.amount)
	})
	if err != nil {
		return nil, err
	}
	pool, err := a.Ledger.Pool(ctx, args.pool)
	if err != nil {
		return nil, err
	}
	return pool.Record(), nil
}

func runPending(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	pos, err := a.Ledger.Position(ctx, args.pool, args.caller)
	if err != nil {
		return nil, err
	}
	pending, err := a.Ledger.PendingReward(ctx, args.pool, args.caller)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pool_id":     args.pool,
		"participant": args.caller.Hex(),
		"staked":      fixedpoint.FormatUnits(&pos.StakedAmount, a.Config.Decimals),
		"pending":     fixedpoint.FormatUnits(pending, a.Config.Decimals),
	}, nil
}

func runPools(ctx context.Context, _ *cobra.Command, a *app.App, _ opArgs) (any, error) {
	pools := a.Ledger.Pools(ctx)
	out := make([]model.PoolRecord, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool.Record())
	}
	return out, nil
}

func runCustody(ctx context.Context, _ *cobra.Command, a *app.App, _ opArgs) (any, error) {
	balance, err := a.Ledger.CustodyBalance(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"custody": a.Ledger.Custody().Hex(),
		"balance": fixedpoint.FormatUnits(balance, a.Config.Decimals),
	}, nil
}

func runAudit(ctx context.Context, _ *cobra.Command, a *app.App, _ opArgs) (any, error) {
	violations, err := a.Ledger.Audit(ctx)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return violations, fmt.Errorf("%d accounting violations", len(violations))
	}
	return map[string]int{"violations": 0}, nil
}

func runFund(ctx context.Context, _ *cobra.Command, a *app.App, args opArgs) (any, error) {
	if err := a.Fund(ctx, args.caller, args.amount); err != nil {
		return nil, err
	}
	balance, err := a.BalanceOf(ctx, args.caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"account": args.caller.Hex(),
		"balance": fixedpoint.FormatUnits(balance, a.Config.Decimals),
	}, nil
}
