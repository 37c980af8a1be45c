package model

// EventRecord is the journal representation of a ledger event.
type EventRecord struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	PoolID     uint64            `json:"pool_id"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  string            `json:"emitted_at"`
}
