package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/app"
	"stakeledger/internal/auth"
	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/ledger"
	"stakeledger/internal/model"
)

const codeInvalidOperation = "invalid_operation"

// RunConfig holds runtime settings for applying an operations file.
type RunConfig struct {
	In                string
	Results           string
	Errors            string
	CheckpointPath    string
	CheckpointEnabled bool
	Decimals          uint8
}

// Summary counts what a run did.
type Summary struct {
	Total   int `json:"total"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Runner applies a JSONL operations file to the ledger in order. Rejected
// operations are written to the errors file and do not stop the run.
type Runner struct {
	cfg        RunConfig
	app        *app.App
	logger     *zap.Logger
	checkpoint *CheckpointStore
	now        func() time.Time
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, a *app.App, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		app:        a,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		now:        time.Now,
	}
}

// Run applies every operation after the checkpointed line.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.app == nil {
		return summary, fmt.Errorf("app is nil")
	}
	if r.cfg.In == "" {
		return summary, fmt.Errorf("input path is required")
	}

	var resumeAfter uint64
	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return summary, err
	}
	if ok && cp.Input == r.cfg.In {
		resumeAfter = cp.LastAppliedLine
		r.logger.Info("resume from checkpoint", zap.Uint64("last_applied_line", resumeAfter))
	}

	input, err := os.Open(r.cfg.In)
	if err != nil {
		return summary, fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	resumed := resumeAfter > 0
	results, err := newJSONLWriter(r.cfg.Results, resumed)
	if err != nil {
		return summary, err
	}
	defer results.Close()
	errs, err := newJSONLWriter(r.cfg.Errors, resumed)
	if err != nil {
		return summary, err
	}
	defer errs.Close()

	scanner := bufio.NewScanner(input)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var line uint64
	for scanner.Scan() {
		line++
		if line <= resumeAfter {
			summary.Skipped++
			continue
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		summary.Total++

		var op model.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			summary.Failed++
			if err := errs.Write(model.OperationError{Line: line, Code: codeInvalidOperation, Error: err.Error()}); err != nil {
				return summary, err
			}
			if err := r.checkpoint.Save(r.cfg.In, line); err != nil {
				return summary, err
			}
			continue
		}

		poolID, payout, err := r.apply(ctx, op)
		switch {
		case errors.Is(err, app.ErrPersist):
			return summary, fmt.Errorf("line %d: %w", line, err)
		case err != nil:
			summary.Failed++
			r.logger.Debug("operation rejected", zap.Uint64("line", line), zap.String("op", op.Op), zap.Error(err))
			if err := errs.Write(operationError(line, op, err)); err != nil {
				return summary, err
			}
		default:
			summary.Applied++
			result := model.OperationResult{
				Line:    line,
				Op:      op.Op,
				Caller:  op.Caller,
				PoolID:  poolID,
				Amount:  op.Amount,
				Applied: r.now().UTC().Format(time.RFC3339Nano),
			}
			if payout != nil {
				result.Payout = fixedpoint.FormatUnits(payout, r.cfg.Decimals)
			}
			if err := results.Write(result); err != nil {
				return summary, err
			}
		}

		if err := r.checkpoint.Save(r.cfg.In, line); err != nil {
			return summary, err
		}
	}

	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("scan input: %w", err)
	}

	r.logger.Info("apply complete",
		zap.Int("total", summary.Total),
		zap.Int("applied", summary.Applied),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// apply executes one operation and returns the pool it touched and, for
// withdrawals, the payout.
func (r *Runner) apply(ctx context.Context, op model.Operation) (uint64, *uint256.Int, error) {
	caller, err := auth.ParseAddress(op.Caller)
	if err != nil {
		return op.PoolID, nil, invalid(err)
	}

	l := r.app.Ledger
	switch op.Op {
	case model.OpCreatePool:
		var id uint64
		err := r.app.Mutate(ctx, op.Op, func(ctx context.Context) error {
			var err error
			id, err = l.CreatePool(ctx, caller)
			return err
		})
		return id, nil, err

	case model.OpWithdrawAll:
		var payout *uint256.Int
		err := r.app.Mutate(ctx, op.Op, func(ctx context.Context) error {
			var err error
			payout, err = l.WithdrawAll(ctx, op.PoolID, caller)
			return err
		})
		return op.PoolID, payout, err
	}

	amount, err := fixedpoint.ParseUnits(op.Amount, r.cfg.Decimals)
	if err != nil {
		return op.PoolID, nil, invalid(err)
	}

	switch op.Op {
	case model.OpDeposit:
		return op.PoolID, nil, r.app.Mutate(ctx, op.Op, func(ctx context.Context) error {
			return l.Deposit(ctx, op.PoolID, caller, amount)
		})
	case model.OpWithdraw:
		var payout *uint256.Int
		err := r.app.Mutate(ctx, op.Op, func(ctx context.Context) error {
			var err error
			payout, err = l.Withdraw(ctx, op.PoolID, caller, amount)
			return err
		})
		return op.PoolID, payout, err
	case model.OpAddRewards:
		return op.PoolID, nil, r.app.Mutate(ctx, op.Op, func(ctx context.Context) error {
			return l.AddRewards(ctx, op.PoolID, caller, amount)
		})
	case model.OpFund:
		return op.PoolID, nil, r.app.Fund(ctx, caller, amount)
	default:
		return op.PoolID, nil, invalid(fmt.Errorf("unknown op %q", op.Op))
	}
}

type invalidOperation struct{ err error }

func (e invalidOperation) Error() string { return e.err.Error() }
func (e invalidOperation) Unwrap() error { return e.err }

func invalid(err error) error { return invalidOperation{err: err} }

func operationError(line uint64, op model.Operation, err error) model.OperationError {
	code := ledger.ErrorCode(err)
	var inv invalidOperation
	if errors.As(err, &inv) {
		code = codeInvalidOperation
	}
	return model.OperationError{
		Line:   line,
		Op:     op.Op,
		Caller: op.Caller,
		PoolID: op.PoolID,
		Code:   code,
		Error:  err.Error(),
	}
}
