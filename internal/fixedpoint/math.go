package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// PrecisionDecimals is the number of decimal places carried by reward-per-share values.
const PrecisionDecimals = 12

// Precision is the scale applied to reward-per-share values (10^PrecisionDecimals).
var Precision = uint256.NewInt(1_000_000_000_000)

var (
	ErrOverflow        = errors.New("fixedpoint: overflow")
	ErrUnderflow       = errors.New("fixedpoint: underflow")
	ErrDivideByZero    = errors.New("fixedpoint: division by zero")
	ErrNegativePending = errors.New("fixedpoint: reward debt exceeds accrued reward")
)

// ScaleUp returns x * Precision.
func ScaleUp(x *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(normalize(x), Precision)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ShareToAmount returns floor(share * acc / Precision). The product is computed
// in 512 bits so only a result above 2^256-1 overflows.
func ShareToAmount(share, acc *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(normalize(share), normalize(acc), Precision)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// RewardPerShareDelta returns floor(ScaleUp(amount) / totalStaked), the
// accumulator increase produced by distributing amount over totalStaked.
func RewardPerShareDelta(amount, totalStaked *uint256.Int) (*uint256.Int, error) {
	if totalStaked == nil || totalStaked.IsZero() {
		return nil, ErrDivideByZero
	}
	scaled, err := ScaleUp(amount)
	if err != nil {
		return nil, err
	}
	return scaled.Div(scaled, totalStaked), nil
}

// Pending returns ShareToAmount(share, acc) - debt.
func Pending(share, acc, debt *uint256.Int) (*uint256.Int, error) {
	accrued, err := ShareToAmount(share, acc)
	if err != nil {
		return nil, err
	}
	out, underflow := new(uint256.Int).SubOverflow(accrued, normalize(debt))
	if underflow {
		return nil, ErrNegativePending
	}
	return out, nil
}

// Add returns x + y, failing instead of wrapping.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(normalize(x), normalize(y))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns x - y, failing instead of wrapping.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(normalize(x), normalize(y))
	if underflow {
		return nil, ErrUnderflow
	}
	return out, nil
}

func normalize(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
