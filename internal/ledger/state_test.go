package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestStateCheck(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	s := newState()
	pool := s.registry.create()
	pool.TotalStaked.SetUint64(10)
	pool.TotalDeposited.SetUint64(10)
	pool.TotalPaidOut.SetUint64(11)
	s.positions[PositionKey{PoolID: pool.ID, Participant: alice}] = Position{
		PoolID:       pool.ID,
		Participant:  alice,
		StakedAmount: *uint256.NewInt(4),
		RewardDebt:   *uint256.NewInt(1),
	}

	violations, obligations := s.check()
	require.Len(t, violations, 3)
	require.Contains(t, violations[0].Reason, alice.Hex())
	require.Contains(t, violations[1].Reason, "positions sum to 4")
	require.Contains(t, violations[2].Reason, "paid out 11")
	require.Equal(t, uint64(10), obligations.Uint64())
	require.Contains(t, describe(violations), "pool 0: paid out 11")
}

func TestStateCheckCountsPendingRewards(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	s := newState()
	pool := s.registry.create()
	pool.TotalStaked.SetUint64(4)
	pool.TotalDeposited.SetUint64(4)
	pool.TotalRewards.SetUint64(2)
	// two tokens per share, scaled
	pool.AccRewardPerShare.Mul(uint256.NewInt(2), uint256.NewInt(1_000_000_000_000))
	s.positions[PositionKey{PoolID: pool.ID, Participant: alice}] = Position{
		PoolID:       pool.ID,
		Participant:  alice,
		StakedAmount: *uint256.NewInt(4),
		RewardDebt:   *uint256.NewInt(6),
	}

	violations, obligations := s.check()
	require.Empty(t, violations)
	require.Equal(t, uint64(6), obligations.Uint64())
}
