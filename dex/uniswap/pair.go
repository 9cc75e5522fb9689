package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/math"
)

var (
	ErrLocked                = errors.New("UniswapV2: LOCKED")
	ErrInsufficientOutput    = errors.New("UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT")
	ErrInsufficientInput     = errors.New("UniswapV2: INSUFFICIENT_INPUT_AMOUNT")
	ErrInsufficientLiquidity = errors.New("UniswapV2: INSUFFICIENT_LIQUIDITY")
	ErrInvalidTo             = errors.New("UniswapV2: INVALID_TO")
	ErrInvariant             = errors.New("UniswapV2: K")
	ErrOverflow              = errors.New("UniswapV2: OVERFLOW")
	ErrInvalidCallee         = errors.New("UniswapV2: recipient takes no callback")
)

// Pair is a constant-product pool over two tokens. It caches its reserves
// and reconciles them with its ledger balances after every swap.
type Pair struct {
	address  common.Address
	factory  common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	locked   bool
	ledger   Ledger
	logger   *zap.Logger
}

func newPair(address, factory, token0, token1 common.Address, ledger Ledger, logger *zap.Logger) *Pair {
	return &Pair{
		address:  address,
		factory:  factory,
		token0:   token0,
		token1:   token1,
		reserve0: new(big.Int),
		reserve1: new(big.Int),
		ledger:   ledger,
		logger:   logger.With(zap.String("pair", address.Hex())),
	}
}

func (p *Pair) Address() common.Address { return p.address }

func (p *Pair) Factory() common.Address { return p.factory }

func (p *Pair) Token0() common.Address { return p.token0 }

func (p *Pair) Token1() common.Address { return p.token1 }

// GetReserves returns the current reserves of the pair
func (p *Pair) GetReserves() (reserve0 *big.Int, reserve1 *big.Int) {
	return math.Clone(p.reserve0), math.Clone(p.reserve1)
}

// Sync sets the reserves to the pair's balances.
func (p *Pair) Sync() error {
	if p.locked {
		return ErrLocked
	}
	return p.update(p.ledger.BalanceOf(p.token0, p.address), p.ledger.BalanceOf(p.token1, p.address))
}

// Swap sends the requested outputs to `to`, calls it back when data is not
// empty and then requires the balances to satisfy the fee-adjusted
// constant-product invariant. The pair cannot be re-entered while a swap is
// in progress.
func (p *Pair) Swap(ctx context.Context, sender common.Address, amount0Out, amount1Out *big.Int, to Callee, data []byte) error {
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	defer func() { p.locked = false }()

	if amount0Out.Sign() <= 0 && amount1Out.Sign() <= 0 {
		return ErrInsufficientOutput
	}
	if amount0Out.Cmp(p.reserve0) >= 0 || amount1Out.Cmp(p.reserve1) >= 0 {
		return ErrInsufficientLiquidity
	}
	recipient := to.Address()
	if recipient == p.token0 || recipient == p.token1 {
		return ErrInvalidTo
	}

	if amount0Out.Sign() > 0 {
		if err := p.ledger.Transfer(p.token0, p.address, recipient, amount0Out); err != nil {
			return fmt.Errorf("sending token0: %w", err)
		}
	}
	if amount1Out.Sign() > 0 {
		if err := p.ledger.Transfer(p.token1, p.address, recipient, amount1Out); err != nil {
			return fmt.Errorf("sending token1: %w", err)
		}
	}
	if len(data) > 0 {
		if err := to.UniswapV2Call(ctx, sender, math.Clone(amount0Out), math.Clone(amount1Out), data); err != nil {
			return err
		}
	}

	balance0 := p.ledger.BalanceOf(p.token0, p.address)
	balance1 := p.ledger.BalanceOf(p.token1, p.address)
	amount0In := amountIn(balance0, p.reserve0, amount0Out)
	amount1In := amountIn(balance1, p.reserve1, amount1Out)
	if amount0In.Sign() <= 0 && amount1In.Sign() <= 0 {
		return ErrInsufficientInput
	}

	thousand := big.NewInt(1000)
	adjusted0 := new(big.Int).Sub(new(big.Int).Mul(balance0, thousand), new(big.Int).Mul(amount0In, big.NewInt(3)))
	adjusted1 := new(big.Int).Sub(new(big.Int).Mul(balance1, thousand), new(big.Int).Mul(amount1In, big.NewInt(3)))
	k := new(big.Int).Mul(new(big.Int).Mul(p.reserve0, p.reserve1), big.NewInt(1_000_000))
	if new(big.Int).Mul(adjusted0, adjusted1).Cmp(k) < 0 {
		return ErrInvariant
	}

	p.logger.Debug("Swap settled",
		zap.String("sender", sender.Hex()),
		zap.Stringer("amount0In", amount0In),
		zap.Stringer("amount1In", amount1In),
		zap.Stringer("amount0Out", amount0Out),
		zap.Stringer("amount1Out", amount1Out))
	return p.update(balance0, balance1)
}

// amountIn is how much of a token arrived beyond what the swap left behind.
func amountIn(balance, reserve, out *big.Int) *big.Int {
	left := new(big.Int).Sub(reserve, out)
	if balance.Cmp(left) > 0 {
		return left.Sub(balance, left)
	}
	return new(big.Int)
}

func (p *Pair) update(balance0, balance1 *big.Int) error {
	if balance0.Cmp(math.MaxUint112) > 0 || balance1.Cmp(math.MaxUint112) > 0 {
		return ErrOverflow
	}
	old0, old1 := p.reserve0, p.reserve1
	p.reserve0, p.reserve1 = math.Clone(balance0), math.Clone(balance1)
	p.ledger.Journal(func() {
		p.reserve0, p.reserve1 = old0, old1
	})
	return nil
}
