package model

const (
	OpCreatePool  = "create_pool"
	OpDeposit     = "deposit"
	OpWithdraw    = "withdraw"
	OpWithdrawAll = "withdraw_all"
	OpAddRewards  = "add_rewards"
	OpFund        = "fund"
)

// Operation is one line of a batch script. Amount is in token units
// (e.g. "100" or "0.5"), scaled by the configured decimals.
type Operation struct {
	Op     string `json:"op"`
	Caller string `json:"caller"`
	PoolID uint64 `json:"pool_id"`
	Amount string `json:"amount,omitempty"`
}

// OperationResult records the outcome of a successfully applied operation.
type OperationResult struct {
	Line    uint64 `json:"line"`
	Op      string `json:"op"`
	Caller  string `json:"caller"`
	PoolID  uint64 `json:"pool_id"`
	Amount  string `json:"amount,omitempty"`
	Payout  string `json:"payout,omitempty"`
	Applied string `json:"applied_at"`
}
