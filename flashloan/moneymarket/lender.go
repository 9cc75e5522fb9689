// Package moneymarket implements a flash lender over a lending pool's
// reserves.
package moneymarket

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/facility/lendingpool"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

// Pool is the lending pool contract the lender borrows from.
type Pool interface {
	Address() common.Address
	Reserve(asset common.Address) (lendingpool.Reserve, bool)
	Reserves() []common.Address
	FlashPremiumBps() uint64
	FlashLoan(ctx context.Context, initiator common.Address, receiver lendingpool.Receiver, assets []common.Address, amounts []*big.Int, params []byte) error
}

type Config struct {
	Name    string
	Address common.Address
	// Assets restricts the lender to these reserves. Empty means every
	// reserve the pool lists.
	Assets []common.Address
}

// Lender relays flash loans from a lending pool to borrowers.
type Lender struct {
	name     string
	address  common.Address
	pool     Pool
	reserves map[common.Address]lendingpool.Reserve
	ledger   flashloan.Ledger
	logger   *zap.Logger
}

func NewLender(ledger flashloan.Ledger, pool Pool, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil || pool == nil {
		return nil, fmt.Errorf("ledger and pool are required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("lender address cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "moneymarket"
	}

	assets := cfg.Assets
	if len(assets) == 0 {
		assets = pool.Reserves()
	}
	reserves := make(map[common.Address]lendingpool.Reserve, len(assets))
	for _, asset := range assets {
		r, ok := pool.Reserve(asset)
		if !ok {
			return nil, fmt.Errorf("%w: %s", lendingpool.ErrReserveNotFound, asset.Hex())
		}
		reserves[asset] = r
	}

	return &Lender{
		name:     cfg.Name,
		address:  cfg.Address,
		pool:     pool,
		reserves: reserves,
		ledger:   ledger,
		logger:   logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

func (l *Lender) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.reserves))
	for asset := range l.reserves {
		assets = append(assets, asset)
	}
	flashloan.SortAssets(assets)
	return assets
}

// MaxFlashLoan returns the underlying held by the asset's wrapper.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	r, ok := l.reserves[asset]
	if !ok {
		return new(big.Int)
	}
	return l.ledger.BalanceOf(asset, r.AToken)
}

// FlashFee returns the pool's flash premium.
func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if _, ok := l.reserves[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return math.CalculateFlashLoanFee(amount, l.pool.FlashPremiumBps()), nil
}

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
	ticket, err := flashloan.NewTicket(l.address, l.pool.Address(), loan).Encode()
	if err != nil {
		return err
	}
	l.logger.Debug("Borrowing from lending pool", loan.Fields()...)

	ctx = flashloan.WithReceiver(ctx, receiver)
	wrapper := l.reserves[asset].AToken
	err = l.ledger.Atomic(func() error {
		return flashloan.Guard(l.ledger, asset, wrapper, fee, func() error {
			return flashloan.Settlement(l.pool.FlashLoan(ctx, l.address, l, []common.Address{asset}, []*big.Int{loan.Amount}, ticket))
		})
	})
	if err != nil {
		l.logger.Warn("Flash loan reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}

// ExecuteOperation is the pool's flash loan callback. It hands the loan to
// the borrower, collects principal and fee, and approves the pool to pull
// them back.
func (l *Lender) ExecuteOperation(ctx context.Context, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) (bool, error) {
	if initiator != l.address {
		return false, fmt.Errorf("%w: flash loan initiated by %s", flashloan.ErrUntrustedCallback, initiator.Hex())
	}
	loan, ticket, err := flashloan.Redeem(ctx, l.address, params)
	if err != nil {
		return false, err
	}
	if ticket.Facility != l.pool.Address() || len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 ||
		assets[0] != loan.Asset || amounts[0].Cmp(loan.Amount) != 0 {
		return false, fmt.Errorf("%w: pool callback does not match the loan", flashloan.ErrMalformedTicket)
	}
	if premiums[0].Cmp(loan.Fee) != 0 {
		return false, fmt.Errorf("%w: pool premium %s, quoted fee %s", flashloan.ErrSettlement, premiums[0], loan.Fee)
	}

	if err := loan.Disburse(l.ledger, l.address); err != nil {
		return false, err
	}
	if err := loan.Dispatch(ctx); err != nil {
		return false, err
	}
	if err := loan.Collect(l.ledger, l.address); err != nil {
		return false, err
	}

	allowance := l.ledger.Allowance(loan.Asset, l.address, l.pool.Address())
	allowance.Add(allowance, loan.Repayment())
	if err := l.ledger.Approve(loan.Asset, l.address, l.pool.Address(), allowance); err != nil {
		return false, flashloan.Settlement(err)
	}
	return true, nil
}
