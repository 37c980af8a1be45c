package model

// Snapshot is a complete, self-contained copy of ledger state.
type Snapshot struct {
	Custody   string           `json:"custody"`
	EventSeq  uint64           `json:"event_seq"`
	Pools     []PoolRecord     `json:"pools"`
	Positions []PositionRecord `json:"positions"`
	Token     *TokenState      `json:"token,omitempty"`
	UpdatedAt string           `json:"updated_at"`
}

// TokenState holds balances and allowances of the in-memory token.
type TokenState struct {
	Balances   map[string]string            `json:"balances"`
	Allowances map[string]map[string]string `json:"allowances"`
}
