package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/chain"
	"stakeledger/internal/ledger"
)

// Backend is the subset of chain.Client used by ERC20.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ERC20Config configures an on-chain token collaborator.
type ERC20Config struct {
	Token        common.Address
	SignerKey    string
	MaxRetries   int
	RetryBackoff time.Duration
	ReceiptPoll  time.Duration

	// ReceiptTimeout bounds the wait for a receipt once a transaction is sent.
	ReceiptTimeout time.Duration
}

// ERC20 moves an on-chain ERC20 token. The signer key controls the custody
// account: Transfer sends from it and TransferFrom spends allowances granted to it.
// Reads are retried; transaction submission is not. Once a transaction is
// sent, failing to see its receipt yields ledger.ErrTransferInDoubt.
type ERC20 struct {
	cfg     ERC20Config
	backend Backend
	retry   chain.Retry
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	logger  *zap.Logger

	// serializes nonce allocation
	mu sync.Mutex
}

// NewERC20 resolves the chain id and prepares the signer.
func NewERC20(ctx context.Context, backend Backend, cfg ERC20Config, logger *zap.Logger) (*ERC20, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	if cfg.Token == (common.Address{}) {
		return nil, fmt.Errorf("token address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}

	retry := chain.Retry{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff, Logger: logger}
	var chainID *big.Int
	err = retry.Do(ctx, "chainID", func(ctx context.Context) error {
		var err error
		chainID, err = backend.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ERC20{
		cfg:     cfg,
		backend: backend,
		retry:   retry,
		abi:     parsed,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
		logger:  logger,
	}, nil
}

// Address returns the custody account controlled by the signer key.
func (t *ERC20) Address() common.Address {
	return t.from
}

func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return t.send(ctx, "transfer", to, amount.ToBig())
}

func (t *ERC20) TransferFrom(ctx context.Context, owner, to common.Address, amount *uint256.Int) error {
	return t.send(ctx, "transferFrom", owner, to, amount.ToBig())
}

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	data, err := t.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	var resp []byte
	err = t.retry.Do(ctx, "balanceOf", func(ctx context.Context) error {
		var err error
		resp, err = t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.cfg.Token, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	values, err := t.abi.Unpack("balanceOf", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf return size %d", len(values))
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	out, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, fmt.Errorf("balanceOf result overflows uint256")
	}
	return out, nil
}

func (t *ERC20) send(ctx context.Context, method string, args ...interface{}) error {
	data, err := t.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var nonce uint64
	err = t.retry.Do(ctx, "pendingNonce", func(ctx context.Context) error {
		var err error
		nonce, err = t.backend.PendingNonceAt(ctx, t.from)
		return err
	})
	if err != nil {
		return err
	}

	var gasPrice *big.Int
	err = t.retry.Do(ctx, "gasPrice", func(ctx context.Context) error {
		var err error
		gasPrice, err = t.backend.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return err
	}

	// A failed estimate usually means the call would revert.
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &t.cfg.Token, Data: data})
	if err != nil {
		return fmt.Errorf("estimate %s: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &t.cfg.Token,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return fmt.Errorf("sign %s: %w", method, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	t.logger.Info("token tx sent", zap.String("method", method), zap.String("tx", signed.Hash().Hex()), zap.Uint64("nonce", nonce))

	// The transaction may be mined from here on, so the caller's cancellation
	// no longer applies and a missing receipt is reported as in doubt.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := t.waitReceipt(waitCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("%w: %s tx %s: %w", ledger.ErrTransferInDoubt, method, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s reverted in tx %s", method, signed.Hash().Hex())
	}
	return nil
}

func (t *ERC20) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(t.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			t.logger.Warn("receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if !errors.Is(err, ethereum.NotFound) {
				return nil, fmt.Errorf("%w (last error: %w)", ctx.Err(), err)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
