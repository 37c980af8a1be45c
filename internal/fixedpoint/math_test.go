package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestScaleUp(t *testing.T) {
	got, err := ScaleUp(uint256.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, "7000000000000", String(got))

	max := new(uint256.Int).SetAllOne()
	_, err = ScaleUp(max)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestShareToAmountFloors(t *testing.T) {
	// 3 shares at 0.5 reward per share is 1.5, floored to 1.
	acc := uint256.NewInt(500_000_000_000)
	got, err := ShareToAmount(uint256.NewInt(3), acc)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Uint64())
}

func TestShareToAmountWideIntermediate(t *testing.T) {
	// share * acc exceeds 2^256 but the quotient fits.
	share := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	acc := new(uint256.Int).Lsh(uint256.NewInt(1), 70)
	got, err := ShareToAmount(share, acc)
	require.NoError(t, err)

	want := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	want, _ = want.MulDivOverflow(want, acc, Precision)
	require.True(t, got.Eq(want))
}

func TestRewardPerShareDelta(t *testing.T) {
	delta, err := RewardPerShareDelta(uint256.NewInt(200), uint256.NewInt(400))
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000_000), delta.Uint64())

	_, err = RewardPerShareDelta(uint256.NewInt(1), new(uint256.Int))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestPending(t *testing.T) {
	acc := uint256.NewInt(500_000_000_000)
	debt, err := ShareToAmount(uint256.NewInt(100), acc)
	require.NoError(t, err)

	pending, err := Pending(uint256.NewInt(100), acc, debt)
	require.NoError(t, err)
	require.True(t, pending.IsZero())

	acc2 := uint256.NewInt(1_500_000_000_000)
	pending, err = Pending(uint256.NewInt(100), acc2, debt)
	require.NoError(t, err)
	require.Equal(t, uint64(100), pending.Uint64())

	_, err = Pending(uint256.NewInt(1), new(uint256.Int), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNegativePending)
}

func TestCheckedAddSub(t *testing.T) {
	_, err := Add(new(uint256.Int).SetAllOne(), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Sub(uint256.NewInt(1), uint256.NewInt(2))
	require.ErrorIs(t, err, ErrUnderflow)

	got, err := Sub(nil, nil)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}
