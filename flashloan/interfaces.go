package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Lender is the uniform flash loan contract every adapter implements.
type Lender interface {
	// Address is the account the lender acts from.
	Address() common.Address

	// MaxFlashLoan returns the largest amount of asset obtainable in one loan
	// right now, or zero when the asset is not recognized. It never fails.
	MaxFlashLoan(asset common.Address) *big.Int

	// FlashFee returns the fee charged for borrowing amount of asset, or
	// ErrUnsupportedAsset when the asset is not recognized.
	FlashFee(asset common.Address, amount *big.Int) (*big.Int, error)

	// FlashLoan lends amount of asset to receiver for the duration of the
	// receiver's callback. Either the loan is repaid with fee before the call
	// returns, or it fails and leaves no trace in the ledger.
	FlashLoan(ctx context.Context, initiator common.Address, receiver Borrower, asset common.Address, amount *big.Int, data []byte) error

	// Assets returns the recognized asset set.
	Assets() []common.Address

	String() string
}

// Borrower receives flash loans.
type Borrower interface {
	Address() common.Address

	// OnFlashLoan is called once the borrowed funds are in the borrower's
	// balance. The borrower must leave amount+fee collectable by the lender
	// and return CallbackSuccess.
	OnFlashLoan(ctx context.Context, initiator, asset common.Address, amount, fee *big.Int, data []byte) (common.Hash, error)
}

// Ledger is the asset-transfer contract adapters consume.
type Ledger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Allowance(asset, owner, spender common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	Approve(asset, owner, spender common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error

	// Atomic runs fn so that all of its ledger mutations are undone if it
	// fails.
	Atomic(fn func() error) error
}

// Kind identifies the backing facility an adapter wraps.
type Kind int

const (
	KindVault Kind = iota
	KindMinter
	KindMoneyMarket
	KindMargin
	KindPair
	KindTermDebt
)

var kindNames = map[Kind]string{
	KindVault:       "vault",
	KindMinter:      "minter",
	KindMoneyMarket: "moneymarket",
	KindMargin:      "margin",
	KindPair:        "pair",
	KindTermDebt:    "termdebt",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a configured kind name to a Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}
