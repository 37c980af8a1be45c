package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/model"
)

// Snapshot exports pools and positions in storage form. Token state and the
// event sequence are filled in by the caller.
func (l *Ledger) Snapshot() model.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pools := l.state.registry.snapshot()
	snap := model.Snapshot{
		Custody:   l.custody.Hex(),
		Pools:     make([]model.PoolRecord, 0, len(pools)),
		Positions: make([]model.PositionRecord, 0, len(l.state.positions)),
	}
	for _, pool := range pools {
		snap.Pools = append(snap.Pools, pool.Record())
	}
	for _, pos := range l.state.sortedPositions() {
		snap.Positions = append(snap.Positions, pos.Record())
	}
	return snap
}

// Restore replaces the ledger state with the snapshot contents. The snapshot
// must describe the same custody account, pool ids must be sequential and the
// pools must pass the same invariant checks as Audit.
func (l *Ledger) Restore(snap model.Snapshot) error {
	if snap.Custody != "" && !strings.EqualFold(snap.Custody, l.custody.Hex()) {
		return fmt.Errorf("snapshot custody %s does not match %s", snap.Custody, l.custody.Hex())
	}

	state := newState()
	for i, rec := range snap.Pools {
		if rec.ID != uint64(i) {
			return fmt.Errorf("pool %d out of sequence at index %d", rec.ID, i)
		}
		pool := state.registry.create()
		if err := parseInto(&pool.TotalStaked, rec.TotalStaked, "total_staked"); err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
		if err := parseInto(&pool.AccRewardPerShare, rec.AccRewardPerShare, "acc_reward_per_share"); err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
		if err := parseInto(&pool.TotalDeposited, rec.TotalDeposited, "total_deposited"); err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
		if err := parseInto(&pool.TotalRewards, rec.TotalRewards, "total_rewards"); err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
		if err := parseInto(&pool.TotalPaidOut, rec.TotalPaidOut, "total_paid_out"); err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
	}

	for _, rec := range snap.Positions {
		if rec.PoolID >= uint64(state.registry.Len()) {
			return fmt.Errorf("position for unknown pool %d", rec.PoolID)
		}
		if !common.IsHexAddress(rec.Participant) {
			return fmt.Errorf("invalid participant: %s", rec.Participant)
		}
		pos := Position{PoolID: rec.PoolID, Participant: common.HexToAddress(rec.Participant)}
		if err := parseInto(&pos.StakedAmount, rec.StakedAmount, "staked_amount"); err != nil {
			return fmt.Errorf("position %d/%s: %w", rec.PoolID, rec.Participant, err)
		}
		if err := parseInto(&pos.RewardDebt, rec.RewardDebt, "reward_debt"); err != nil {
			return fmt.Errorf("position %d/%s: %w", rec.PoolID, rec.Participant, err)
		}
		state.positions[PositionKey{PoolID: pos.PoolID, Participant: pos.Participant}] = pos
	}

	if violations, _ := state.check(); len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInconsistentSnapshot, describe(violations))
	}

	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	return nil
}

func parseInto(dst *uint256.Int, value, field string) error {
	parsed, err := fixedpoint.ParseInt(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	dst.Set(parsed)
	return nil
}
