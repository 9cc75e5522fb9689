// Package lendingpool is an in-memory money market: each reserve asset is
// held by an interest-bearing wrapper account and can be flash borrowed for
// a fixed premium.
package lendingpool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/math"
)

// MainnetLendingPool is the address pools are deployed at by default.
var MainnetLendingPool = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")

// FlashPremiumBps is the premium charged on flash loans, 0.09%.
const FlashPremiumBps = 9

var (
	ErrReserveNotFound     = errors.New("lending pool: reserve not initialized")
	ErrReserveExists       = errors.New("lending pool: reserve already initialized")
	ErrInconsistentParams  = errors.New("lending pool: inconsistent flash loan parameters")
	ErrInvalidReturn       = errors.New("lending pool: invalid flash loan executor return")
	ErrInsufficientReserve = errors.New("lending pool: not enough liquidity")
)

// Ledger is the token ledger reserves are held in.
type Ledger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
}

// Receiver executes an operation with flash borrowed assets. It must approve
// the pool for each amount plus premium before returning true.
type Receiver interface {
	Address() common.Address
	ExecuteOperation(ctx context.Context, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) (bool, error)
}

// Reserve pairs an underlying asset with the wrapper account holding it.
type Reserve struct {
	Asset  common.Address
	AToken common.Address
}

type Pool struct {
	address  common.Address
	ledger   Ledger
	reserves map[common.Address]Reserve
	order    []common.Address
	logger   *zap.Logger
}

func New(address common.Address, ledger Ledger, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		address:  address,
		ledger:   ledger,
		reserves: make(map[common.Address]Reserve),
		logger:   logger.With(zap.String("pool", address.Hex())),
	}
}

func (p *Pool) Address() common.Address { return p.address }

// InitReserve lists asset and deploys its wrapper.
func (p *Pool) InitReserve(asset common.Address) (Reserve, error) {
	if _, ok := p.reserves[asset]; ok {
		return Reserve{}, fmt.Errorf("%w: %s", ErrReserveExists, asset.Hex())
	}
	r := Reserve{
		Asset:  asset,
		AToken: crypto.CreateAddress(p.address, uint64(len(p.order))),
	}
	p.reserves[asset] = r
	p.order = append(p.order, asset)
	p.logger.Debug("Reserve initialized", zap.String("asset", asset.Hex()), zap.String("aToken", r.AToken.Hex()))
	return r, nil
}

// Reserve returns the reserve of asset.
func (p *Pool) Reserve(asset common.Address) (Reserve, bool) {
	r, ok := p.reserves[asset]
	return r, ok
}

// Reserves returns the listed assets in listing order.
func (p *Pool) Reserves() []common.Address {
	return append([]common.Address(nil), p.order...)
}

func (p *Pool) FlashPremiumBps() uint64 { return FlashPremiumBps }

// AvailableLiquidity returns the underlying held by the reserve's wrapper.
func (p *Pool) AvailableLiquidity(asset common.Address) *big.Int {
	r, ok := p.reserves[asset]
	if !ok {
		return new(big.Int)
	}
	return p.ledger.BalanceOf(asset, r.AToken)
}

// Deposit moves amount from `from` into the reserve. The pool must be
// approved for it.
func (p *Pool) Deposit(asset, from common.Address, amount *big.Int) error {
	r, ok := p.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset.Hex())
	}
	return p.ledger.TransferFrom(asset, p.address, from, r.AToken, amount)
}

// FlashLoan sends each amount to receiver, calls ExecuteOperation and pulls
// every amount plus premium back into its reserve. The caller is expected to
// roll back ledger state if an error is returned.
func (p *Pool) FlashLoan(ctx context.Context, initiator common.Address, receiver Receiver, assets []common.Address, amounts []*big.Int, params []byte) error {
	if len(assets) == 0 || len(assets) != len(amounts) {
		return ErrInconsistentParams
	}

	premiums := make([]*big.Int, len(assets))
	reserves := make([]Reserve, len(assets))
	for i, asset := range assets {
		r, ok := p.reserves[asset]
		if !ok {
			return fmt.Errorf("%w: %s", ErrReserveNotFound, asset.Hex())
		}
		reserves[i] = r
		premiums[i] = math.CalculateFlashLoanFee(amounts[i], FlashPremiumBps)
		if err := p.ledger.Transfer(asset, r.AToken, receiver.Address(), amounts[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientReserve, err)
		}
	}

	ok, err := receiver.ExecuteOperation(ctx, append([]common.Address(nil), assets...), cloneAll(amounts), cloneAll(premiums), initiator, params)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidReturn
	}

	for i, r := range reserves {
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if err := p.ledger.TransferFrom(r.Asset, p.address, receiver.Address(), r.AToken, owed); err != nil {
			return fmt.Errorf("collecting %s: %w", r.Asset.Hex(), err)
		}
		p.logger.Debug("Flash loan settled",
			zap.String("initiator", initiator.Hex()),
			zap.String("asset", r.Asset.Hex()),
			zap.Stringer("amount", amounts[i]),
			zap.Stringer("premium", premiums[i]))
	}
	return nil
}

func cloneAll(xs []*big.Int) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = math.Clone(x)
	}
	return out
}
