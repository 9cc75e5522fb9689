package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Exchange represents a constant-product exchange
type Exchange interface {
	// GetName returns the exchange name
	GetName() string

	// GetReserves returns the reserves of a token pair, ordered as the
	// arguments are
	GetReserves(ctx context.Context, tokenA, tokenB common.Address) (*Reserves, error)

	// EstimateReturn estimates the return amount for a swap
	EstimateReturn(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
}

// Reserves represents token pair reserves
type Reserves struct {
	Pair     common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}
