// Package debttoken models fixed-maturity debt tokens that can be flash
// minted until they mature.
package debttoken

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/math"
)

var (
	ErrMatured        = errors.New("debt token: only before maturity")
	ErrFlashMintLimit = errors.New("debt token: flash mint limit exceeded")
	ErrNotRepaid      = errors.New("debt token: flash mint not returned")
)

// Ledger is the ledger the token's balances live in.
type Ledger interface {
	TotalSupply(asset common.Address) *big.Int
	Mint(asset, to common.Address, amount *big.Int) error
	Burn(asset, from common.Address, amount *big.Int) error
}

// Receiver is called while it holds flash minted tokens. The tokens are
// burned from its balance afterwards.
type Receiver interface {
	Address() common.Address
	ExecuteOnFlashMint(ctx context.Context, token common.Address, amount *big.Int, data []byte) error
}

type Token struct {
	address  common.Address
	name     string
	maturity time.Time
	ledger   Ledger
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Token)

// WithClock sets the time source maturity is checked against.
func WithClock(now func() time.Time) Option {
	return func(t *Token) { t.now = now }
}

func New(address common.Address, name string, maturity time.Time, ledger Ledger, logger *zap.Logger, opts ...Option) *Token {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Token{
		address:  address,
		name:     name,
		maturity: maturity,
		ledger:   ledger,
		now:      time.Now,
		logger:   logger.With(zap.String("series", name)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Name() string { return t.name }

func (t *Token) Maturity() time.Time { return t.maturity }

// Matured reports whether the series has reached maturity.
func (t *Token) Matured() bool {
	return !t.now().Before(t.maturity)
}

func (t *Token) TotalSupply() *big.Int {
	return t.ledger.TotalSupply(t.address)
}

// FlashMint mints amount to receiver, calls it and burns amount back.
func (t *Token) FlashMint(ctx context.Context, receiver Receiver, amount *big.Int, data []byte) error {
	if t.Matured() {
		return fmt.Errorf("%w: matured %s", ErrMatured, t.maturity.UTC().Format(time.RFC3339))
	}
	if amount.Cmp(math.MaxUint112) > 0 {
		return ErrFlashMintLimit
	}

	if err := t.ledger.Mint(t.address, receiver.Address(), amount); err != nil {
		return err
	}
	if err := receiver.ExecuteOnFlashMint(ctx, t.address, math.Clone(amount), data); err != nil {
		return err
	}
	if err := t.ledger.Burn(t.address, receiver.Address(), amount); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRepaid, err)
	}

	t.logger.Debug("Flash mint settled", zap.String("receiver", receiver.Address().Hex()), zap.Stringer("amount", amount))
	return nil
}
