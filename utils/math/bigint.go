package math

import (
	"math/big"

	gmath "github.com/ethereum/go-ethereum/common/math"
)

// BasisPoints is the denominator for rates expressed in basis points.
const BasisPoints = 10_000

var (
	// MaxUint256 is the largest amount any ledger can represent.
	MaxUint256 = new(big.Int).Set(gmath.MaxBig256)
	// MaxUint112 is the largest amount a pool reserve or debt series can hold.
	MaxUint112 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))
)

// Clone returns a copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// CalculateFlashLoanFee returns amount*bps/10000 rounded down.
func CalculateFlashLoanFee(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Div(fee, big.NewInt(BasisPoints))
}

// CalculateFlashLoanFeeUp returns amount*bps/10000 rounded up, so any
// non-zero rate charges at least one unit.
func CalculateFlashLoanFeeUp(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	fee.Add(fee, big.NewInt(BasisPoints-1))
	return fee.Div(fee, big.NewInt(BasisPoints))
}

// CalculatePairFee is the constant-product swap fee for borrowing amount and
// returning it in the same swap: amount*3/997 + 1.
func CalculatePairFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(Clone(amount), big.NewInt(3))
	fee.Div(fee, big.NewInt(997))
	return fee.Add(fee, big.NewInt(1))
}

// SubFloor returns x-y, or zero when y exceeds x.
func SubFloor(x, y *big.Int) *big.Int {
	diff := new(big.Int).Sub(Clone(x), Clone(y))
	if diff.Sign() < 0 {
		return diff.SetInt64(0)
	}
	return diff
}
