// Package vault implements a flash lender that lends out reserves it holds
// in its own account.
package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

// Config configures a vault lender.
type Config struct {
	Name    string
	Address common.Address
	// FeeBps is the fee rate in basis points (1 = 0.01%). Zero lends for free;
	// any other rate rounds up so no loan is free by rounding.
	FeeBps uint64
	Assets []common.Address
}

// Lender lends the reserves held at its own address.
type Lender struct {
	name    string
	address common.Address
	feeBps  uint64
	assets  map[common.Address]struct{}
	ledger  flashloan.Ledger
	logger  *zap.Logger
}

// NewLender creates a vault lender over ledger.
func NewLender(ledger flashloan.Ledger, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("vault address cannot be zero")
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("vault needs at least one asset")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "vault"
	}

	assets := make(map[common.Address]struct{}, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		assets[asset] = struct{}{}
	}

	return &Lender{
		name:    cfg.Name,
		address: cfg.Address,
		feeBps:  cfg.FeeBps,
		assets:  assets,
		ledger:  ledger,
		logger:  logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

// Assets returns the reserve assets the vault lends.
func (l *Lender) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.assets))
	for asset := range l.assets {
		assets = append(assets, asset)
	}
	flashloan.SortAssets(assets)
	return assets
}

// MaxFlashLoan returns the vault's current reserve of asset.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	if _, ok := l.assets[asset]; !ok {
		return new(big.Int)
	}
	return l.ledger.BalanceOf(asset, l.address)
}

// FlashFee returns amount*FeeBps/10000 rounded up.
func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if _, ok := l.assets[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return math.CalculateFlashLoanFeeUp(amount, l.feeBps), nil
}

// FlashLoan sends amount to receiver, runs its callback and pulls
// amount+fee back through the allowance the receiver granted.
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
	l.logger.Debug("Lending vault reserves", loan.Fields()...)

	err = l.ledger.Atomic(func() error {
		return flashloan.Guard(l.ledger, asset, l.address, fee, func() error {
			if err := loan.Disburse(l.ledger, l.address); err != nil {
				return err
			}
			if err := loan.Dispatch(ctx); err != nil {
				return err
			}
			return loan.Collect(l.ledger, l.address)
		})
	})
	if err != nil {
		l.logger.Warn("Flash loan reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}
