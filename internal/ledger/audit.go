package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"stakeledger/internal/fixedpoint"
)

// Violation describes a broken accounting invariant.
type Violation struct {
	PoolID uint64 `json:"pool_id"`
	Reason string `json:"reason"`
}

// Audit checks, for every pool, that the positions sum to TotalStaked, that
// every position has a computable non-negative pending reward and that payouts
// never exceeded deposits plus rewards. If the token can report the custody
// balance it must also cover all principal and pending rewards.
func (l *Ledger) Audit(ctx context.Context) ([]Violation, error) {
	defer l.rlock(ctx)()

	violations, obligations := l.state.check()

	balance, err := l.CustodyBalance(ctx)
	if err != nil {
		return violations, err
	}
	if obligations.Gt(balance) {
		violations = append(violations, Violation{
			Reason: fmt.Sprintf("custody balance %s below obligations %s",
				fixedpoint.String(balance), fixedpoint.String(obligations)),
		})
	}
	return violations, nil
}

// check verifies the per-pool invariants and returns the principal plus
// pending rewards the custody account owes.
func (s *State) check() ([]Violation, *uint256.Int) {
	pools := s.registry.snapshot()
	var violations []Violation
	sums := make([]uint256.Int, len(pools))
	obligations := new(uint256.Int)

	for _, pos := range s.sortedPositions() {
		pool := pools[pos.PoolID]
		sums[pos.PoolID].Add(&sums[pos.PoolID], &pos.StakedAmount)

		pending, err := fixedpoint.Pending(&pos.StakedAmount, &pool.AccRewardPerShare, &pos.RewardDebt)
		if err != nil {
			violations = append(violations, Violation{
				PoolID: pos.PoolID,
				Reason: fmt.Sprintf("position %s: %v", pos.Participant.Hex(), err),
			})
			continue
		}
		obligations.Add(obligations, pending)
	}

	for _, pool := range pools {
		if !sums[pool.ID].Eq(&pool.TotalStaked) {
			violations = append(violations, Violation{
				PoolID: pool.ID,
				Reason: fmt.Sprintf("positions sum to %s, total staked is %s",
					fixedpoint.String(&sums[pool.ID]), fixedpoint.String(&pool.TotalStaked)),
			})
		}
		received := new(uint256.Int).Add(&pool.TotalDeposited, &pool.TotalRewards)
		if pool.TotalPaidOut.Gt(received) {
			violations = append(violations, Violation{
				PoolID: pool.ID,
				Reason: fmt.Sprintf("paid out %s exceeds received %s",
					fixedpoint.String(&pool.TotalPaidOut), fixedpoint.String(received)),
			})
		}
		obligations.Add(obligations, &pool.TotalStaked)
	}
	return violations, obligations
}

func describe(violations []Violation) string {
	reasons := make([]string, 0, len(violations))
	for _, v := range violations {
		reasons = append(reasons, fmt.Sprintf("pool %d: %s", v.PoolID, v.Reason))
	}
	return strings.Join(reasons, "; ")
}
