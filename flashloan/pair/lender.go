// Package pair implements a flash lender on top of constant-product pair
// flash swaps.
package pair

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/dex/uniswap"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

type Config struct {
	Name    string
	Address common.Address
	// Pairs lists the token pairs to borrow from. An asset is lent by the
	// first listed pair that holds it.
	Pairs [][2]common.Address
}

// Lender borrows from pairs through flash swaps and repays with the pair fee.
type Lender struct {
	name    string
	address common.Address
	factory *uniswap.Factory
	pairs   map[common.Address]*uniswap.Pair
	ledger  flashloan.Ledger
	logger  *zap.Logger
}

func NewLender(ledger flashloan.Ledger, factory *uniswap.Factory, cfg Config, logger *zap.Logger) (*Lender, error) {
	if ledger == nil || factory == nil {
		return nil, fmt.Errorf("ledger and factory are required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("lender address cannot be zero")
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("pair lender needs at least one pair")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "pair"
	}

	pairs := make(map[common.Address]*uniswap.Pair)
	for _, tokens := range cfg.Pairs {
		p, ok := factory.GetPair(tokens[0], tokens[1])
		if !ok {
			return nil, fmt.Errorf("%s has no pair for %s/%s", factory.GetName(), tokens[0].Hex(), tokens[1].Hex())
		}
		for _, token := range tokens {
			if _, seen := pairs[token]; !seen {
				pairs[token] = p
			}
		}
	}

	return &Lender{
		name:    cfg.Name,
		address: cfg.Address,
		factory: factory,
		pairs:   pairs,
		ledger:  ledger,
		logger:  logger.With(zap.String("lender", cfg.Name)),
	}, nil
}

func (l *Lender) Address() common.Address { return l.address }

func (l *Lender) String() string { return l.name }

func (l *Lender) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.pairs))
	for asset := range l.pairs {
		assets = append(assets, asset)
	}
	flashloan.SortAssets(assets)
	return assets
}

// Pair returns the pair that lends asset.
func (l *Lender) Pair(asset common.Address) (*uniswap.Pair, bool) {
	p, ok := l.pairs[asset]
	return p, ok
}

// MaxFlashLoan returns the pair's balance of asset less one unit, since a
// pair can never be drained completely.
func (l *Lender) MaxFlashLoan(asset common.Address) *big.Int {
	p, ok := l.pairs[asset]
	if !ok {
		return new(big.Int)
	}
	return math.SubFloor(l.ledger.BalanceOf(asset, p.Address()), big.NewInt(1))
}

// FlashFee returns amount*3/997+1, enough to keep the pair invariant after
// the swap fee.
func (l *Lender) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	if _, ok := l.pairs[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedAsset, asset.Hex())
	}
	return math.CalculatePairFee(amount), nil
}

// FlashLoan flash-swaps amount of asset out of its pair. The loan is carried
// through the swap as a ticket and settled in UniswapV2Call.
func (l *Lender) FlashLoan(ctx context.Context, initiator common.Address, receiver flashloan.Borrower, asset common.Address, amount *big.Int, data []byte) error {
	fee, err := flashloan.CheckLoan(l, asset, amount)
	if err != nil {
		return err
	}
	p := l.pairs[asset]
	loan := &flashloan.Loan{
		Initiator: initiator,
		Receiver:  receiver,
		Asset:     asset,
		Amount:    math.Clone(amount),
		Fee:       fee,
		Data:      data,
	}
	ticket, err := flashloan.NewTicket(l.address, p.Address(), loan).Encode()
	if err != nil {
		return err
	}

	amount0Out, amount1Out := math.Clone(amount), new(big.Int)
	if asset != p.Token0() {
		amount0Out, amount1Out = amount1Out, amount0Out
	}
	l.logger.Debug("Flash swapping", append(loan.Fields(), zap.String("pair", p.Address().Hex()))...)

	ctx = flashloan.WithReceiver(ctx, receiver)
	err = l.ledger.Atomic(func() error {
		return flashloan.Guard(l.ledger, asset, p.Address(), fee, func() error {
			return flashloan.Settlement(p.Swap(ctx, l.address, amount0Out, amount1Out, l, ticket))
		})
	})
	if err != nil {
		l.logger.Warn("Flash loan reverted", append(loan.Fields(), zap.Error(err))...)
	}
	return err
}

// UniswapV2Call is the pair's flash swap callback. It forwards the output to
// the borrower, collects principal and fee, and pays them to the pair.
func (l *Lender) UniswapV2Call(ctx context.Context, sender common.Address, amount0, amount1 *big.Int, data []byte) error {
	if sender != l.address {
		return fmt.Errorf("%w: swap initiated by %s", flashloan.ErrUntrustedCallback, sender.Hex())
	}
	loan, ticket, err := flashloan.Redeem(ctx, l.address, data)
	if err != nil {
		return err
	}
	if p, ok := l.pairs[loan.Asset]; !ok || p.Address() != ticket.Facility {
		return fmt.Errorf("%w: unknown pair %s", flashloan.ErrUntrustedCallback, ticket.Facility.Hex())
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
	if err := l.ledger.Transfer(loan.Asset, l.address, ticket.Facility, loan.Repayment()); err != nil {
		return fmt.Errorf("%w: repaying pair: %w", flashloan.ErrSettlement, err)
	}
	return nil
}
