package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestMemoryTransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory(custody)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(1000)))
	tok.Approve(alice, custody, uint256.NewInt(300))

	require.NoError(t, tok.TransferFrom(ctx, alice, custody, uint256.NewInt(200)))
	require.Equal(t, uint64(100), tok.Allowance(alice, custody).Uint64())

	bal, err := tok.BalanceOf(ctx, custody)
	require.NoError(t, err)
	require.Equal(t, uint64(200), bal.Uint64())

	err = tok.TransferFrom(ctx, alice, custody, uint256.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestMemoryTransferFromInsufficientFunds(t *testing.T) {
	tok := NewMemory(custody)
	tok.Approve(bob, custody, uint256.NewInt(50))

	err := tok.TransferFrom(context.Background(), bob, custody, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, uint64(50), tok.Allowance(bob, custody).Uint64(), "allowance must not be spent on failure")
}

func TestMemoryTransferFromOperator(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory(custody)
	require.NoError(t, tok.Mint(custody, uint256.NewInt(10)))

	require.NoError(t, tok.Transfer(ctx, bob, uint256.NewInt(4)))
	err := tok.Transfer(ctx, bob, uint256.NewInt(7))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := tok.BalanceOf(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(4), bal.Uint64())
}

func TestMemoryExportImport(t *testing.T) {
	tok := NewMemory(custody)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(77)))
	tok.Approve(alice, custody, uint256.NewInt(5))

	restored := NewMemory(custody)
	require.NoError(t, restored.Import(tok.Export()))

	bal, err := restored.BalanceOf(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, uint64(77), bal.Uint64())
	require.Equal(t, uint64(5), restored.Allowance(alice, custody).Uint64())
}
