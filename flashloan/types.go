package flashloan

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/math"
)

// CallbackSuccess is the acknowledgement a borrower returns from OnFlashLoan.
var CallbackSuccess = crypto.Keccak256Hash([]byte("ERC3156FlashBorrower.onFlashLoan"))

// Loan is the argument set of one flash loan. It lives only on the call
// stack of the FlashLoan call that created it.
type Loan struct {
	Initiator common.Address
	Receiver  Borrower
	Asset     common.Address
	Amount    *big.Int
	Fee       *big.Int
	Data      []byte
}

// Repayment is the amount the lender collects back: principal plus fee.
func (l *Loan) Repayment() *big.Int {
	return new(big.Int).Add(l.Amount, l.Fee)
}

// Disburse sends the principal from the lender's account to the receiver.
func (l *Loan) Disburse(ledger Ledger, from common.Address) error {
	if err := ledger.Transfer(l.Asset, from, l.Receiver.Address(), l.Amount); err != nil {
		return fmt.Errorf("%w: disbursing loan: %w", ErrSettlement, err)
	}
	return nil
}

// Dispatch invokes the receiver's callback and checks its acknowledgement.
func (l *Loan) Dispatch(ctx context.Context) error {
	ack, err := l.Receiver.OnFlashLoan(ctx, l.Initiator, l.Asset, math.Clone(l.Amount), math.Clone(l.Fee), l.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBorrowerFailed, err)
	}
	if ack != CallbackSuccess {
		return fmt.Errorf("%w: acknowledgement %s", ErrCallbackRejected, ack.Hex())
	}
	return nil
}

// Collect pulls principal plus fee from the receiver into the lender's
// account using the allowance the receiver granted.
func (l *Loan) Collect(ledger Ledger, lender common.Address) error {
	if err := ledger.TransferFrom(l.Asset, lender, l.Receiver.Address(), lender, l.Repayment()); err != nil {
		return fmt.Errorf("%w: %w", ErrUnpaidLoan, err)
	}
	return nil
}

// Fields describes the loan for structured logging.
func (l *Loan) Fields() []zap.Field {
	return []zap.Field{
		zap.String("initiator", l.Initiator.Hex()),
		zap.String("receiver", l.Receiver.Address().Hex()),
		zap.String("asset", l.Asset.Hex()),
		zap.Stringer("amount", l.Amount),
		zap.Stringer("fee", l.Fee),
	}
}

// CheckLoan validates a loan request against the lender before any facility
// interaction and returns the fee to charge.
func CheckLoan(lender Lender, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	fee, err := lender.FlashFee(asset, amount)
	if err != nil {
		return nil, err
	}
	if max := lender.MaxFlashLoan(asset); amount.Cmp(max) > 0 {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientSupply, amount, max)
	}
	return fee, nil
}

// Guard runs fn and then requires account's balance of asset to have grown
// by at least fee. Callers run Guard inside Atomic so a violation rolls
// every mutation back.
func Guard(ledger Ledger, asset, account common.Address, fee *big.Int, fn func() error) error {
	before := ledger.BalanceOf(asset, account)
	if err := fn(); err != nil {
		return err
	}
	want := new(big.Int).Add(before, fee)
	if after := ledger.BalanceOf(asset, account); after.Cmp(want) < 0 {
		return fmt.Errorf("%w: facility balance %s, want at least %s", ErrSettlement, after, want)
	}
	return nil
}
