package uniswap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the token ledger pairs hold their balances in. Journal registers
// an undo step for the pair's cached reserves.
type Ledger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	Journal(undo func())
}

// Callee receives the output of a swap and, when the swap carries data, is
// called back before the pair checks its invariant.
type Callee interface {
	Address() common.Address
	UniswapV2Call(ctx context.Context, sender common.Address, amount0, amount1 *big.Int, data []byte) error
}

// Account is a swap recipient that takes no callback.
type Account common.Address

func (a Account) Address() common.Address { return common.Address(a) }

func (a Account) UniswapV2Call(context.Context, common.Address, *big.Int, *big.Int, []byte) error {
	return ErrInvalidCallee
}
