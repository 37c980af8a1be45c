package model

// PositionRecord is the stored form of a participant's stake in a pool.
type PositionRecord struct {
	PoolID       uint64 `json:"pool_id"`
	Participant  string `json:"participant"`
	StakedAmount string `json:"staked_amount"`
	RewardDebt   string `json:"reward_debt"`
}
