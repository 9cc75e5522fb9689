// Package margin implements a flash lender over a margin protocol that
// lends through a withdraw, call, deposit operation.
package margin

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/facility/solomargin"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

// Fee is the flat surcharge the protocol requires on top of a withdrawal to
// leave the borrowing account non-negative.
const Fee = 2

// Solo is the margin protocol the lender borrows from.
type Solo interface {
	Address() common.Address
	GetNumMarkets() uint64
	GetMarketTokenAddress(marketID uint64) (common.Address, error)
	Operate(ctx context.Context, sender common.Address, accounts []solomargin.AccountInfo, actions []solomargin.ActionArgs) error
}

type Config struct {
	Name    string
	Address common.Address
	// Assets restricts the lender to these tokens. Empty means every market.
	Assets []common.Address
}

// Lender borrows from a margin protocol on behalf of flash borrowers.
type Lender struct {
	name    string
	address common.Address
	solo    Solo
	markets map[common.Address]uint64
	ledger  flashloan.Ledger
	logger  *zap.Logger
}

// NewLender resolves each token's market id once.
func NewLender(ledger flashloan.Ledger, solo Solo, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil || solo == nil {
		return nil, fmt.Errorf("ledger and solo are required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("lender address cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "margin"
	}

	all := make(map[common.Address]uint64)
	for id := uint64(0); id < solo.GetNumMarkets(); id++ {
		token, err := solo.GetMarketTokenAddress(id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve market %d: %w", id, err)
		}
		if _, ok := all[token]; !ok {
			all[token] = id
		}
	}

	markets := all
	if len(cfg.Assets) > 0 {
		markets = make(map[common.Address]uint64, len(cfg.Assets))
		for _, asset := range cfg.Assets {
			id, ok := all[asset]
			if !ok {
				return nil, fmt.Errorf("%w: no market for %s", solomargin.ErrInvalidMarket, asset.Hex())
			}
			markets[asset] = id
		}
	}

	return &Lender{
		name:    cfg.Name,
		address: cfg.Address,
		solo:    solo,
		markets: markets,
		ledger:  ledger,
		logger:  logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

func (l *Lender) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.markets))
	for asset := range l.markets {
		assets = append(assets, asset)
	}
	flashloan.SortAssets(assets)
	return assets
}

// MarketID returns the market asset is lent from.
func (l *Lender) MarketID(asset common.Address) (uint64, bool) {
	id, ok := l.markets[asset]
	return id, ok
}

// MaxFlashLoan returns the protocol's balance of asset.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	if _, ok := l.markets[asset]; !ok {
		return new(big.Int)
	}
	return l.ledger.BalanceOf(asset, l.solo.Address())
}

func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if _, ok := l.markets[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return big.NewInt(Fee), nil
}

// FlashLoan submits a single operation that withdraws amount, calls back
// into the lender and deposits amount plus fee.
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
	ticket, err := flashloan.NewTicket(l.address, l.solo.Address(), loan).Encode()
	if err != nil {
		return err
	}

	market := l.markets[asset]
	accounts := []solomargin.AccountInfo{{Owner: l.address, Number: 1}}
	actions := []solomargin.ActionArgs{
		{
			ActionType:      solomargin.ActionWithdraw,
			Amount:          loan.Amount,
			PrimaryMarketID: market,
			OtherAddress:    l.address,
		},
		{
			ActionType: solomargin.ActionCall,
			Callee:     l,
			Data:       ticket,
		},
		{
			ActionType:      solomargin.ActionDeposit,
			Amount:          loan.Repayment(),
			PrimaryMarketID: market,
			OtherAddress:    l.address,
		},
	}
	l.logger.Debug("Operating margin protocol", append(loan.Fields(), zap.Uint64("market", market))...)

	ctx = flashloan.WithReceiver(ctx, receiver)
	err = l.ledger.Atomic(func() error {
		return flashloan.Guard(l.ledger, asset, l.solo.Address(), fee, func() error {
			return flashloan.Settlement(l.solo.Operate(ctx, l.address, accounts, actions))
		})
	})
	if err != nil {
		l.logger.Warn("Flash loan reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}

// CallFunction runs between the withdrawal and the deposit. It lends to the
// borrower, collects principal and fee, and approves the deposit.
func (l *Lender) CallFunction(ctx context.Context, sender common.Address, account solomargin.AccountInfo, data []byte) error {
	if sender != l.address || account.Owner != l.address {
		return fmt.Errorf("%w: operation by %s", flashloan.ErrUntrustedCallback, sender.Hex())
	}
	loan, ticket, err := flashloan.Redeem(ctx, l.address, data)
	if err != nil {
		return err
	}
	if ticket.Facility != l.solo.Address() {
		return fmt.Errorf("%w: ticket for %s", flashloan.ErrUntrustedCallback, ticket.Facility.Hex())
	}

	if err := loan.Disburse(l.ledger, l.address); err != nil {
		return err
	}
	if err := loan.Dispatch(ctx); err != nil {
		return err
	}
	if err := loan.Collect(l.ledger, l.address); err != nil {
		return err
	}

	allowance := l.ledger.Allowance(loan.Asset, l.address, l.solo.Address())
	allowance.Add(allowance, loan.Repayment())
	if err := l.ledger.Approve(loan.Asset, l.address, l.solo.Address(), allowance); err != nil {
		return flashloan.Settlement(err)
	}
	return nil
}
