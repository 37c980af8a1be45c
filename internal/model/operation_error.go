package model

// OperationError records a batch operation that could not be applied.
type OperationError struct {
	Line   uint64 `json:"line"`
	Op     string `json:"op,omitempty"`
	Caller string `json:"caller,omitempty"`
	PoolID uint64 `json:"pool_id"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}
