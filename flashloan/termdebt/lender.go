// Package termdebt implements a flash lender over fixed-maturity debt tokens
// that support flash minting.
package termdebt

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/facility/debttoken"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

// Series is a debt token the lender can flash mint.
type Series interface {
	Address() common.Address
	Matured() bool
	FlashMint(ctx context.Context, receiver debttoken.Receiver, amount *big.Int, data []byte) error
}

// Ledger extends the flash loan ledger with supply queries.
type Ledger interface {
	flashloan.Ledger
	TotalSupply(asset common.Address) *big.Int
}

type Config struct {
	Name    string
	Address common.Address
}

// Lender lends debt tokens by flash minting them. Loans are free.
type Lender struct {
	name    string
	address common.Address
	series  map[common.Address]Series
	ledger  Ledger
	logger  *zap.Logger
}

func NewLender(ledger Ledger, series []Series, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("lender address cannot be zero")
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("term debt lender needs at least one series")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "termdebt"
	}

	bySeries := make(map[common.Address]Series, len(series))
	for _, s := range series {
		if _, dup := bySeries[s.Address()]; dup {
			return nil, fmt.Errorf("series %s listed twice", s.Address().Hex())
		}
		bySeries[s.Address()] = s
	}

	return &Lender{
		name:    cfg.Name,
		address: cfg.Address,
		series:  bySeries,
		ledger:  ledger,
		logger:  logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

func (l *Lender) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.series))
	for asset := range l.series {
		assets = append(assets, asset)
	}
	flashloan.SortAssets(assets)
	return assets
}

// MaxFlashLoan returns the flash mint limit, or zero once the series has
// matured.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	s, ok := l.series[asset]
	if !ok || s.Matured() {
		return new(big.Int)
	}
	return math.Clone(math.MaxUint112)
}

func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if _, ok := l.series[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return new(big.Int), nil
}

func (l *Lender) FlashLoan(ctx context.Context, initiator common.Address, receiver flashloan.Borrower, asset common.Address, amount *big.Int, data []byte) error {
	fee, err := flashloan.CheckLoan(l, asset, amount)
	if err != nil {
		return err
	}
	s := l.series[asset]
	loan := &flashloan.Loan{
		Initiator: initiator,
		Receiver:  receiver,
		Asset:     asset,
		Amount:    math.Clone(amount),
		Fee:       fee,
		Data:      data,
	}
	ticket, err := flashloan.NewTicket(l.address, asset, loan).Encode()
	if err != nil {
		return err
	}
	l.logger.Debug("Flash minting debt", loan.Fields()...)

	ctx = flashloan.WithReceiver(ctx, receiver)
	err = l.ledger.Atomic(func() error {
		supply := l.ledger.TotalSupply(asset)
		if err := flashloan.Settlement(s.FlashMint(ctx, l, loan.Amount, ticket)); err != nil {
			return err
		}
		if after := l.ledger.TotalSupply(asset); after.Cmp(supply) != 0 {
			return fmt.Errorf("%w: supply %s after flash mint, was %s", flashloan.ErrSettlement, after, supply)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Flash loan reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}

// ExecuteOnFlashMint runs while the lender holds the minted tokens. It lends
// them to the borrower and takes them back before the series burns them.
func (l *Lender) ExecuteOnFlashMint(ctx context.Context, token common.Address, amount *big.Int, data []byte) error {
	loan, ticket, err := flashloan.Redeem(ctx, l.address, data)
	if err != nil {
		return err
	}
	if _, ok := l.series[token]; !ok || ticket.Facility != token || loan.Asset != token {
		return fmt.Errorf("%w: flash mint of %s", flashloan.ErrUntrustedCallback, token.Hex())
	}
	if amount.Cmp(loan.Amount) != 0 {
		return fmt.Errorf("%w: minted %s for a loan of %s", flashloan.ErrMalformedTicket, amount, loan.Amount)
	}

	if err := loan.Disburse(l.ledger, l.address); err != nil {
		return err
	}
	if err := loan.Dispatch(ctx); err != nil {
		return err
	}
	return loan.Collect(l.ledger, l.address)
}
