package token

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakeledger/internal/ledger"
)

type fakeBackend struct {
	mu        sync.Mutex
	chainID   *big.Int
	balance   *big.Int
	status    uint64
	sent      []*types.Transaction
	callFails int

	receiptErr    error
	receiptMisses int
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callFails > 0 {
		f.callFails--
		return nil, ethereum.NotFound
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1_000_000_000), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 60_000, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receiptMisses > 0 {
		f.receiptMisses--
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return &types.Receipt{Status: f.status, TxHash: hash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func newTestERC20(t *testing.T, backend *fakeBackend) (*ERC20, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tokenAddr := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	erc20, err := NewERC20(context.Background(), backend, ERC20Config{
		Token:          tokenAddr,
		SignerKey:      "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
		ReceiptPoll:    time.Millisecond,
		ReceiptTimeout: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), erc20.Address())
	return erc20, tokenAddr
}

func TestERC20TransferSignsCall(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(56), status: types.ReceiptStatusSuccessful}
	erc20, tokenAddr := newTestERC20(t, backend)

	amount := new(uint256.Int).Mul(uint256.NewInt(150), uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, erc20.Transfer(context.Background(), alice, amount))
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	require.Equal(t, tokenAddr, *tx.To())
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(56)), tx)
	require.NoError(t, err)
	require.Equal(t, erc20.Address(), sender)

	parsed, err := ERC20ABI()
	require.NoError(t, err)
	method := parsed.Methods["transfer"]
	require.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, alice, args[0].(common.Address))
	require.Equal(t, amount.ToBig(), args[1].(*big.Int))
}

func TestERC20TransferFromReverted(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(56), status: types.ReceiptStatusFailed}
	erc20, _ := newTestERC20(t, backend)

	err := erc20.TransferFrom(context.Background(), alice, erc20.Address(), uint256.NewInt(10))
	require.ErrorContains(t, err, "transferFrom reverted")
}

func TestERC20BalanceOfRetries(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(56), balance: big.NewInt(4200), callFails: 2}
	erc20, _ := newTestERC20(t, backend)

	bal, err := erc20.BalanceOf(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, uint64(4200), bal.Uint64())
}

func TestERC20ReceiptFailureIsInDoubt(t *testing.T) {
	backend := &fakeBackend{
		chainID:    big.NewInt(56),
		status:     types.ReceiptStatusSuccessful,
		receiptErr: errors.New("rpc unavailable"),
	}
	erc20, _ := newTestERC20(t, backend)

	err := erc20.Transfer(context.Background(), alice, uint256.NewInt(10))
	require.ErrorIs(t, err, ledger.ErrTransferInDoubt)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "rpc unavailable")
	require.Len(t, backend.sent, 1)
	require.ErrorContains(t, err, backend.sent[0].Hash().Hex())
}

func TestERC20WaitsForReceiptAfterCancel(t *testing.T) {
	backend := &fakeBackend{
		chainID:       big.NewInt(56),
		status:        types.ReceiptStatusSuccessful,
		receiptMisses: 3,
	}
	erc20, _ := newTestERC20(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, erc20.TransferFrom(ctx, alice, erc20.Address(), uint256.NewInt(10)))
	require.Len(t, backend.sent, 1)
}
