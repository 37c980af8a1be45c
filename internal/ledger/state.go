package ledger

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/model"
)

// Pool is the aggregate accounting state of one staking pool.
type Pool struct {
	ID uint64
	// TotalStaked always equals the sum of StakedAmount over the pool's positions.
	TotalStaked uint256.Int
	// AccRewardPerShare is scaled by fixedpoint.Precision and never decreases.
	AccRewardPerShare uint256.Int

	// Lifetime counters, used by Audit only.
	TotalDeposited uint256.Int
	TotalRewards   uint256.Int
	TotalPaidOut   uint256.Int
}

// Position is one participant's stake in one pool.
type Position struct {
	PoolID       uint64
	Participant  common.Address
	StakedAmount uint256.Int
	RewardDebt   uint256.Int
}

// Record converts the pool to its stored form.
func (p Pool) Record() model.PoolRecord {
	return model.PoolRecord{
		ID:                p.ID,
		TotalStaked:       fixedpoint.String(&p.TotalStaked),
		AccRewardPerShare: fixedpoint.String(&p.AccRewardPerShare),
		TotalDeposited:    fixedpoint.String(&p.TotalDeposited),
		TotalRewards:      fixedpoint.String(&p.TotalRewards),
		TotalPaidOut:      fixedpoint.String(&p.TotalPaidOut),
	}
}

// Record converts the position to its stored form.
func (p Position) Record() model.PositionRecord {
	return model.PositionRecord{
		PoolID:       p.PoolID,
		Participant:  p.Participant.Hex(),
		StakedAmount: fixedpoint.String(&p.StakedAmount),
		RewardDebt:   fixedpoint.String(&p.RewardDebt),
	}
}

// PositionKey identifies a position.
type PositionKey struct {
	PoolID      uint64
	Participant common.Address
}

// State is the full ledger state. It is owned by a single Ledger and never
// shared: readers get copies.
type State struct {
	registry  Registry
	positions map[PositionKey]Position
}

func newState() *State {
	return &State{positions: make(map[PositionKey]Position)}
}

func (s *State) position(key PositionKey) (Position, bool) {
	pos, ok := s.positions[key]
	if !ok {
		pos = Position{PoolID: key.PoolID, Participant: key.Participant}
	}
	return pos, ok
}

func (s *State) restorePosition(key PositionKey, pos Position, existed bool) {
	if existed {
		s.positions[key] = pos
		return
	}
	delete(s.positions, key)
}

// sortedPositions returns positions ordered by pool id then participant.
func (s *State) sortedPositions() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolID != out[j].PoolID {
			return out[i].PoolID < out[j].PoolID
		}
		return bytes.Compare(out[i].Participant[:], out[j].Participant[:]) < 0
	})
	return out
}
