// Package minter implements a flash lender that is itself the asset it lends:
// loans are minted into existence and burned back with the fee.
package minter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

// Ledger extends the flash loan ledger with supply control.
type Ledger interface {
	flashloan.Ledger
	TotalSupply(asset common.Address) *big.Int
	Mint(asset, to common.Address, amount *big.Int) error
	Burn(asset, from common.Address, amount *big.Int) error
}

type Config struct {
	Name string
	// Address is both the lender and the asset it mints.
	Address common.Address
	FeeBps  uint64
}

// Lender mints flash loans of its own token.
type Lender struct {
	name    string
	address common.Address
	feeBps  uint64
	ledger  Ledger
	logger  *zap.Logger
}

func NewLender(ledger Ledger, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("minter address cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "minter"
	}
	return &Lender{
		name:    cfg.Name,
		address: cfg.Address,
		feeBps:  cfg.FeeBps,
		ledger:  ledger,
		logger:  logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

func (l *Lender) Assets() []common.Address { return []common.Address{l.address} }

// MaxFlashLoan returns how much more of the token can exist.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	if asset != l.address {
		return new(big.Int)
	}
	return math.SubFloor(math.MaxUint256, l.ledger.TotalSupply(asset))
}

func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if asset != l.address {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return math.CalculateFlashLoanFeeUp(amount, l.feeBps), nil
}

// FlashLoan mints amount to receiver, runs its callback and burns amount+fee
// from the receiver. The fee is not minted, so the receiver must already hold
// it.
func (l *Lender) FlashLoan(ctx context.Context, initiator common.Address, receiver flashloan.Borrower, asset common.Address, amount *big.Int, data []byte) error {
	fee, err := flashloan.CheckLoan(l, asset, amount)
	if err != nil {
		return err
	}
	loan := &flashloan.Loan{
		Initiator: initiator,
		Receiver:  receiver,
		Asset:     asset,
		Amount:    math.Clone(amount),
		Fee:       fee,
		Data:      data,
	}
	l.logger.Debug("Minting flash loan", loan.Fields()...)

	err = l.ledger.Atomic(func() error {
		supply := l.ledger.TotalSupply(asset)
		if err := l.ledger.Mint(asset, receiver.Address(), loan.Amount); err != nil {
			return flashloan.Settlement(err)
		}
		if err := loan.Dispatch(ctx); err != nil {
			return err
		}
		if err := l.ledger.Burn(asset, receiver.Address(), loan.Repayment()); err != nil {
			return fmt.Errorf("%w: %w", flashloan.ErrUnpaidLoan, err)
		}

		// Nested loans burn their own fees, so supply may fall further.
		want := new(big.Int).Sub(supply, fee)
		if after := l.ledger.TotalSupply(asset); after.Cmp(want) > 0 {
			return fmt.Errorf("%w: supply %s, want at most %s", flashloan.ErrSettlement, after, want)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Flash mint reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}
