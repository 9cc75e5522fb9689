// Package borrower provides a flash loan receiver that records what it was
// lent and can be told to repay, withhold repayment, re-enter the lender or
// reject the loan.
package borrower

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Action tells the borrower what to do inside its callback.
type Action uint8

const (
	// ActionNormal repays through the allowance granted before borrowing.
	ActionNormal Action = iota
	// ActionSteal moves the loan away and grants no allowance.
	ActionSteal
	// ActionReenter borrows twice the amount again from inside the callback.
	ActionReenter
	// ActionReject returns a wrong acknowledgement.
	ActionReject
)

var actionNames = map[Action]string{
	ActionNormal:  "repay",
	ActionSteal:   "steal",
	ActionReenter: "reenter",
	ActionReject:  "reject",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction maps a mode name to an Action.
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown borrower mode %q", name)
}

var errUnknownAction = errors.New("borrower: unknown action")

var abiUint8, _ = abi.NewType("uint8", "", nil)

var actionArguments = abi.Arguments{{Name: "action", Type: abiUint8}}

// EncodeAction packs the action into the loan's opaque data.
func EncodeAction(a Action) []byte {
	data, err := actionArguments.Pack(uint8(a))
	if err != nil {
		panic(fmt.Sprintf("packing borrower action: %v", err))
	}
	return data
}

func decodeAction(data []byte) (Action, error) {
	values, err := actionArguments.Unpack(data)
	if err != nil {
		return 0, fmt.Errorf("decoding borrower action: %w", err)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, errUnknownAction
	}
	return Action(v), nil
}

// Ledger is the subset of the asset ledger the borrower uses.
type Ledger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Allowance(asset, owner, spender common.Address) *big.Int
	Approve(asset, owner, spender common.Address, amount *big.Int) error
	Transfer(asset, from, to common.Address, amount *big.Int) error
	Atomic(fn func() error) error
	Journal(undo func())
}

// quoter is implemented by lenders that route to another lender, whose
// address is the one that collects repayment.
type quoter interface {
	Quote(asset common.Address, amount *big.Int) (flashloan.Lender, *big.Int, error)
}

// FlashBorrower is a flash loan receiver. It is not safe for concurrent use.
type FlashBorrower struct {
	address common.Address
	stash   common.Address
	ledger  Ledger
	logger  *zap.Logger

	lender  flashloan.Lender
	reenter flashloan.Lender

	// Observations from the most recent callback. They are journaled with
	// the ledger, so a reverted loan leaves them as they were before it.
	FlashInitiator common.Address
	FlashAsset     common.Address
	FlashAmount    *big.Int
	FlashFee       *big.Int
	FlashBalance   *big.Int

	// Received totals the principal of every loan received.
	Received *big.Int
	Calls    int
}

// New creates a borrower acting from address.
func New(address common.Address, led Ledger, logger *zap.Logger) *FlashBorrower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlashBorrower{
		address:      address,
		stash:        ledger.AddressOf("stash:" + address.Hex()),
		ledger:       led,
		logger:       logger,
		FlashAmount:  new(big.Int),
		FlashFee:     new(big.Int),
		FlashBalance: new(big.Int),
		Received:     new(big.Int),
	}
}

func (b *FlashBorrower) Address() common.Address { return b.address }

// Stash is where ActionSteal moves borrowed funds.
func (b *FlashBorrower) Stash() common.Address { return b.stash }

// ReenterWith makes ActionReenter borrow from lender instead of the lender
// of the outer loan.
func (b *FlashBorrower) ReenterWith(lender flashloan.Lender) {
	b.reenter = lender
}

// FlashBorrow approves amount plus fee and borrows amount of asset.
func (b *FlashBorrower) FlashBorrow(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int) error {
	return b.borrow(ctx, lender, asset, amount, ActionNormal, true)
}

// FlashBorrowAndSteal borrows without granting any allowance and moves the
// loan to the stash.
func (b *FlashBorrower) FlashBorrowAndSteal(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int) error {
	return b.borrow(ctx, lender, asset, amount, ActionSteal, false)
}

// FlashBorrowAndReenter borrows amount and, inside the callback, borrows
// twice as much again.
func (b *FlashBorrower) FlashBorrowAndReenter(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int) error {
	return b.borrow(ctx, lender, asset, amount, ActionReenter, true)
}

// FlashBorrowAndReject borrows and answers with a wrong acknowledgement.
func (b *FlashBorrower) FlashBorrowAndReject(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int) error {
	return b.borrow(ctx, lender, asset, amount, ActionReject, true)
}

// Borrow runs the given action against lender.
func (b *FlashBorrower) Borrow(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int, action Action) error {
	return b.borrow(ctx, lender, asset, amount, action, action != ActionSteal)
}

func (b *FlashBorrower) borrow(ctx context.Context, lender flashloan.Lender, asset common.Address, amount *big.Int, action Action, approve bool) error {
	return b.ledger.Atomic(func() error {
		if approve {
			if err := b.approveRepayment(lender, asset, amount); err != nil {
				return err
			}
		}

		outer := b.lender
		b.lender = lender
		defer func() { b.lender = outer }()

		return lender.FlashLoan(ctx, b.address, b, asset, amount, EncodeAction(action))
	})
}

func (b *FlashBorrower) approveRepayment(lender flashloan.Lender, asset common.Address, amount *big.Int) error {
	collector := lender
	fee, err := lender.FlashFee(asset, amount)
	if err != nil {
		return err
	}
	if q, ok := lender.(quoter); ok {
		if collector, fee, err = q.Quote(asset, amount); err != nil {
			return err
		}
	}

	spender := collector.Address()
	allowance := b.ledger.Allowance(asset, b.address, spender)
	allowance.Add(allowance, amount)
	allowance.Add(allowance, fee)
	return b.ledger.Approve(asset, b.address, spender, allowance)
}

// OnFlashLoan records the loan and performs the action encoded in data.
func (b *FlashBorrower) OnFlashLoan(ctx context.Context, initiator, asset common.Address, amount, fee *big.Int, data []byte) (common.Hash, error) {
	action, err := decodeAction(data)
	if err != nil {
		return common.Hash{}, err
	}

	b.observe(initiator, asset, amount, fee)

	b.logger.Debug("Flash loan received",
		zap.Stringer("action", action),
		zap.String("asset", asset.Hex()),
		zap.Stringer("amount", amount),
		zap.Stringer("fee", fee))

	switch action {
	case ActionNormal:
		b.FlashBalance = b.ledger.BalanceOf(asset, b.address)
	case ActionSteal:
		if err := b.ledger.Transfer(asset, b.address, b.stash, amount); err != nil {
			return common.Hash{}, err
		}
	case ActionReenter:
		target := b.reenter
		if target == nil {
			target = b.lender
		}
		if target == nil {
			return common.Hash{}, fmt.Errorf("borrower: no lender to re-enter")
		}
		if err := b.FlashBorrow(ctx, target, asset, new(big.Int).Mul(amount, big.NewInt(2))); err != nil {
			return common.Hash{}, err
		}
	case ActionReject:
		return common.Hash{}, nil
	default:
		return common.Hash{}, errUnknownAction
	}
	return flashloan.CallbackSuccess, nil
}

// observe records a callback and journals the previous observations.
func (b *FlashBorrower) observe(initiator, asset common.Address, amount, fee *big.Int) {
	prev := *b
	b.ledger.Journal(func() {
		b.Calls = prev.Calls
		b.FlashInitiator = prev.FlashInitiator
		b.FlashAsset = prev.FlashAsset
		b.FlashAmount = prev.FlashAmount
		b.FlashFee = prev.FlashFee
		b.FlashBalance = prev.FlashBalance
		b.Received = prev.Received
	})

	b.Calls++
	b.FlashInitiator = initiator
	b.FlashAsset = asset
	b.FlashAmount = new(big.Int).Set(amount)
	b.FlashFee = new(big.Int).Set(fee)
	b.Received = new(big.Int).Add(b.Received, amount)
}
