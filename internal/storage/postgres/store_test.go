package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/internal/model"
)

func TestNumeric(t *testing.T) {
	require.Equal(t, "0", numeric(""))
	require.Equal(t, "123", numeric("123"))
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}

// TestStoreRoundTrip runs against a real database when STAKELEDGER_TEST_PG_DSN is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("STAKELEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STAKELEDGER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	snap := model.Snapshot{
		Custody:  "0x00000000000000000000000000000000000000C0",
		EventSeq: 2,
		Pools: []model.PoolRecord{{
			ID: 0, TotalStaked: "400", AccRewardPerShare: "500000000000",
			TotalDeposited: "400", TotalRewards: "200", TotalPaidOut: "0",
		}},
		Positions: []model.PositionRecord{
			{PoolID: 0, Participant: "0x00000000000000000000000000000000000000A1", StakedAmount: "100", RewardDebt: "0"},
		},
		Token: &model.TokenState{Balances: map[string]string{"0x00000000000000000000000000000000000000C0": "600"}},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.Pools, loaded.Pools)
	require.Equal(t, snap.Positions, loaded.Positions)
	require.Equal(t, "600", loaded.Token.Balances["0x00000000000000000000000000000000000000C0"])

	require.NoError(t, store.PutEventBatch(ctx, []model.EventRecord{{
		ID: "6f1c0d5e-7c1d-4b7b-9a55-0d7d0a3f9f10", Seq: 1, Type: "pool.created",
		Attributes: map[string]string{"pool_id": "0"}, EmittedAt: "2024-01-01T00:00:00Z",
	}}))
}
