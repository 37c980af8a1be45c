package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token moves the staked asset. Transfer pays out of the ledger's custody
// account; TransferFrom pulls from owner using an allowance granted to custody.
// Implementations may call back into the ledger with the context they receive.
// A transfer that was submitted but never confirmed must return an error
// wrapping ErrTransferInDoubt; the ledger then keeps the operation applied.
type Token interface {
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, owner, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Authorizer decides who may create pools and inject rewards.
type Authorizer interface {
	IsAuthorizedAdmin(ctx context.Context, caller common.Address) bool
}
