package math

import (
	"math/big"
	"testing"
)

func TestFlashLoanFee(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    uint64
		down   string
		up     string
	}{
		{"Zero rate", 1000, 0, "0", "0"},
		{"Exact", 10000, 9, "9", "9"},
		{"Dust", 1, 9, "0", "1"},
		{"Ten bps", 1000, 10, "1", "1"},
		{"Ten bps rounding", 1001, 10, "1", "2"},
		{"Zero amount", 0, 10, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := big.NewInt(tt.amount)
			if got := CalculateFlashLoanFee(amount, tt.bps); got.String() != tt.down {
				t.Errorf("CalculateFlashLoanFee(%d, %d) = %v; want %s", tt.amount, tt.bps, got, tt.down)
			}
			if got := CalculateFlashLoanFeeUp(amount, tt.bps); got.String() != tt.up {
				t.Errorf("CalculateFlashLoanFeeUp(%d, %d) = %v; want %s", tt.amount, tt.bps, got, tt.up)
			}
		})
	}
}

func TestPairFee(t *testing.T) {
	if got := CalculatePairFee(big.NewInt(100000)); got.Int64() != 301 {
		t.Errorf("CalculatePairFee(100000) = %v; want 301", got)
	}
	if got := CalculatePairFee(big.NewInt(99999)); got.Int64() != 301 {
		t.Errorf("CalculatePairFee(99999) = %v; want 301", got)
	}
	if got := CalculatePairFee(big.NewInt(0)); got.Int64() != 1 {
		t.Errorf("CalculatePairFee(0) = %v; want 1", got)
	}
}

func TestBounds(t *testing.T) {
	if MaxUint112.BitLen() != 112 {
		t.Errorf("MaxUint112 has %d bits; want 112", MaxUint112.BitLen())
	}
	if MaxUint256.BitLen() != 256 {
		t.Errorf("MaxUint256 has %d bits; want 256", MaxUint256.BitLen())
	}
	if got := SubFloor(big.NewInt(1), big.NewInt(2)); got.Sign() != 0 {
		t.Errorf("SubFloor(1, 2) = %v; want 0", got)
	}
	if got := SubFloor(big.NewInt(5), nil); got.Int64() != 5 {
		t.Errorf("SubFloor(5, nil) = %v; want 5", got)
	}
}
