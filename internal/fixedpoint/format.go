package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// DefaultDecimals matches the 18-decimal staking token.
const DefaultDecimals = 18

// FormatUnits renders an integer amount with the given number of decimals,
// trimming trailing zeros but keeping at least one fractional digit.
func FormatUnits(value *uint256.Int, decimals uint8) string {
	if value == nil {
		value = new(uint256.Int)
	}
	if decimals == 0 {
		return value.ToBig().String()
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(value.ToBig(), denom)
	text := rat.FloatString(int(decimals))
	text = strings.TrimRight(text, "0")
	if strings.HasSuffix(text, ".") {
		text += "0"
	}
	return text
}

// ParseUnits parses a decimal string such as "100" or "0.25" into an integer
// amount scaled by 10^decimals. Fractions finer than the token precision are rejected.
func ParseUnits(input string, decimals uint8) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty amount")
	}
	rat, ok := new(big.Rat).SetString(input)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", input)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", input)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", input, decimals)
	}
	out, overflow := uint256.FromBig(rat.Num())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ParseInt parses a base-10 integer amount without scaling.
func ParseInt(input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return new(uint256.Int), nil
	}
	parsed, ok := new(big.Int).SetString(input, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid int: %s", input)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// String renders an integer amount in base 10.
func String(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.ToBig().String()
}
