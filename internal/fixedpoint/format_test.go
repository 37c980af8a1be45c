package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	value, err := ParseUnits("150", DefaultDecimals)
	require.NoError(t, err)
	require.Equal(t, "150000000000000000000", String(value))
	require.Equal(t, "150.0", FormatUnits(value, DefaultDecimals))

	require.Equal(t, "0.25", FormatUnits(uint256.NewInt(25), 2))
	require.Equal(t, "42", FormatUnits(uint256.NewInt(42), 0))
	require.Equal(t, "0.0", FormatUnits(nil, 6))
}

func TestParseUnitsRejects(t *testing.T) {
	for _, input := range []string{"", "abc", "-1", "0.0000001"} {
		_, err := ParseUnits(input, 6)
		require.Error(t, err, input)
	}
}

func TestParseInt(t *testing.T) {
	got, err := ParseInt("12345678901234567890123")
	require.NoError(t, err)
	require.Equal(t, "12345678901234567890123", String(got))

	_, err = ParseInt("-5")
	require.Error(t, err)
}
