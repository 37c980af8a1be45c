package model

// PoolRecord is the stored form of a staking pool. Amounts are base-10 integer strings.
type PoolRecord struct {
	ID                uint64 `json:"id"`
	TotalStaked       string `json:"total_staked"`
	AccRewardPerShare string `json:"acc_reward_per_share"`
	TotalDeposited    string `json:"total_deposited"`
	TotalRewards      string `json:"total_rewards"`
	TotalPaidOut      string `json:"total_paid_out"`
}
