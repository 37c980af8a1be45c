package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stakeledger/internal/config"
	"stakeledger/internal/ledger"
	"stakeledger/internal/storage"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func testConfig(dir string, store string) config.Config {
	return config.Config{
		Store:       store,
		StateFile:   filepath.Join(dir, "ledger.json"),
		LevelDBPath: filepath.Join(dir, "ledger.db"),
		Journal:     filepath.Join(dir, "events.jsonl"),
		Admins:      []string{admin.Hex()},
		Custody:     custody.Hex(),
		Token:       config.TokenMemory,
		Decimals:    18,
	}
}

func populate(t *testing.T, a *App) uint64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Fund(ctx, alice, uint256.NewInt(1000)))
	require.NoError(t, a.Fund(ctx, admin, uint256.NewInt(1000)))

	var pool uint64
	require.NoError(t, a.Mutate(ctx, "create_pool", func(ctx context.Context) error {
		var err error
		pool, err = a.Ledger.CreatePool(ctx, admin)
		return err
	}))
	require.NoError(t, a.Mutate(ctx, "deposit", func(ctx context.Context) error {
		return a.Ledger.Deposit(ctx, pool, alice, uint256.NewInt(100))
	}))
	require.NoError(t, a.Mutate(ctx, "add_rewards", func(ctx context.Context) error {
		return a.Ledger.AddRewards(ctx, pool, admin, uint256.NewInt(50))
	}))
	return pool
}

func TestReopenRestoresLedgerAndToken(t *testing.T) {
	for _, store := range []string{config.StoreFile, config.StoreLevelDB} {
		t.Run(store, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t.TempDir(), store)

			a, err := Open(ctx, cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			pool := populate(t, a)
			require.Equal(t, uint64(3), a.Journal.Seq())
			a.Close()

			b, err := Open(ctx, cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			defer b.Close()

			require.Equal(t, uint64(3), b.Journal.Seq())
			pending, err := b.Ledger.PendingReward(ctx, pool, alice)
			require.NoError(t, err)
			require.Equal(t, uint64(50), pending.Uint64())

			bal, err := b.BalanceOf(ctx, custody)
			require.NoError(t, err)
			require.Equal(t, uint64(150), bal.Uint64())

			var payout *uint256.Int
			require.NoError(t, b.Mutate(ctx, "withdraw_all", func(ctx context.Context) error {
				var err error
				payout, err = b.Ledger.WithdrawAll(ctx, pool, alice)
				return err
			}))
			require.Equal(t, uint64(150), payout.Uint64())
			require.Equal(t, uint64(4), b.Journal.Seq())
		})
	}
}

func TestJournalWrittenToFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), config.StoreFile)
	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	populate(t, a)

	events, err := storage.ReadEvents(cfg.Journal)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, ledger.TypePoolCreated, events[0].Type)
	require.Equal(t, ledger.TypeRewardsAdded, events[2].Type)
	require.Equal(t, uint64(3), events[2].Seq)
}

func TestMutateCountsFailures(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t.TempDir(), config.StoreFile), nil)
	require.NoError(t, err)
	defer a.Close()

	err = a.Mutate(ctx, "deposit", func(ctx context.Context) error {
		return a.Ledger.Deposit(ctx, 0, alice, uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ledger.ErrPoolNotFound)
	require.Zero(t, a.Journal.Seq())

	require.ErrorIs(t, a.Fund(ctx, alice, uint256.NewInt(0)), ledger.ErrZeroAmount)
}

func TestMutatePersistsUnconfirmedOperations(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), config.StoreFile)
	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	err = a.Mutate(ctx, "create_pool", func(ctx context.Context) error {
		if _, err := a.Ledger.CreatePool(ctx, admin); err != nil {
			return err
		}
		return fmt.Errorf("pull rewards: %w", ledger.ErrTransferInDoubt)
	})
	require.ErrorIs(t, err, ledger.ErrTransferInDoubt)
	require.Empty(t, a.Journal.Pending())

	snap, ok, err := (&storage.FileSnapshotStore{Path: cfg.StateFile}).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Pools, 1)
	require.Equal(t, uint64(1), snap.EventSeq)
}

func TestOpenRejectsBadAdmins(t *testing.T) {
	cfg := testConfig(t.TempDir(), config.StoreFile)
	cfg.Admins = []string{"0xnope"}
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
}
