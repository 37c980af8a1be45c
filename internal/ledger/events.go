package ledger

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/internal/fixedpoint"
)

const (
	TypePoolCreated  = "pool.created"
	TypeDeposit      = "deposit"
	TypeWithdraw     = "withdraw"
	TypeRewardsAdded = "rewards.added"
)

// Event is a state change emitted once per successful ledger operation.
type Event interface {
	EventType() string
	PoolID() uint64
	Attributes() map[string]string
}

// Emitter receives ledger events. Emit is called while the ledger write lock
// is held, so implementations must not call back into the ledger.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to every non-nil emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

type PoolCreated struct {
	Pool  uint64
	Admin common.Address
}

func (PoolCreated) EventType() string { return TypePoolCreated }

func (e PoolCreated) PoolID() uint64 { return e.Pool }

func (e PoolCreated) Attributes() map[string]string {
	return map[string]string{
		"pool_id": strconv.FormatUint(e.Pool, 10),
		"admin":   e.Admin.Hex(),
	}
}

type Deposit struct {
	Pool        uint64
	Participant common.Address
	Amount      *uint256.Int
}

func (Deposit) EventType() string { return TypeDeposit }

func (e Deposit) PoolID() uint64 { return e.Pool }

func (e Deposit) Attributes() map[string]string {
	return map[string]string{
		"pool_id":     strconv.FormatUint(e.Pool, 10),
		"participant": e.Participant.Hex(),
		"amount":      fixedpoint.String(e.Amount),
	}
}

// Withdraw carries the total payout: principal plus settled reward.
type Withdraw struct {
	Pool        uint64
	Participant common.Address
	Payout      *uint256.Int
}

func (Withdraw) EventType() string { return TypeWithdraw }

func (e Withdraw) PoolID() uint64 { return e.Pool }

func (e Withdraw) Attributes() map[string]string {
	return map[string]string{
		"pool_id":     strconv.FormatUint(e.Pool, 10),
		"participant": e.Participant.Hex(),
		"payout":      fixedpoint.String(e.Payout),
	}
}

type RewardsAdded struct {
	Pool   uint64
	Admin  common.Address
	Amount *uint256.Int
}

func (RewardsAdded) EventType() string { return TypeRewardsAdded }

func (e RewardsAdded) PoolID() uint64 { return e.Pool }

func (e RewardsAdded) Attributes() map[string]string {
	return map[string]string{
		"pool_id": strconv.FormatUint(e.Pool, 10),
		"admin":   e.Admin.Hex(),
		"amount":  fixedpoint.String(e.Amount),
	}
}
