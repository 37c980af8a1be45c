package ledger

import (
	"errors"

	"stakeledger/internal/fixedpoint"
)

var (
	ErrPoolNotFound                 = errors.New("ledger: pool not found")
	ErrZeroAmount                   = errors.New("ledger: amount must be greater than zero")
	ErrInsufficientBalance          = errors.New("ledger: withdraw amount exceeds staked balance")
	ErrNoStakeToDistributeRewardsTo = errors.New("ledger: no stake to distribute rewards to")
	ErrUnauthorized                 = errors.New("ledger: caller is not an authorized admin")
	ErrTransferFailed               = errors.New("ledger: token transfer failed")
	ErrReentrantCall                = errors.New("ledger: reentrant call rejected")
	ErrTransferInDoubt              = errors.New("ledger: token transfer submitted but not confirmed")
	ErrInconsistentSnapshot         = errors.New("ledger: snapshot breaks accounting invariants")
)

// ErrorCode maps an error returned by the ledger to a stable snake_case code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNoStakeToDistributeRewardsTo):
		return "no_stake_to_distribute_rewards_to"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTransferInDoubt):
		return "transfer_in_doubt"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, fixedpoint.ErrOverflow), errors.Is(err, fixedpoint.ErrUnderflow):
		return "arithmetic_overflow"
	default:
		return "internal"
	}
}
