// Package solomargin is an in-memory margin protocol whose markets are
// addressed by integer ids and whose only mutating entry point is Operate,
// a composite list of actions checked for collateral once at the end.
package solomargin

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// MainnetSoloMargin is the address the protocol is deployed at by default.
var MainnetSoloMargin = common.HexToAddress("0x1E0447b19BB6EcFdAe1e4AE1694b0C3659614e4e")

var (
	ErrInvalidMarket       = errors.New("solo margin: invalid market")
	ErrInvalidAccount      = errors.New("solo margin: invalid account index")
	ErrNotOperator         = errors.New("solo margin: unpermissioned operator")
	ErrUndercollateralized = errors.New("solo margin: undercollateralized account")
	ErrUnknownAction       = errors.New("solo margin: unknown action")
	ErrInvalidAmount       = errors.New("solo margin: amount must be positive")
)

// ActionType selects what an action does.
type ActionType int

const (
	ActionDeposit ActionType = iota
	ActionWithdraw
	ActionCall
)

// Ledger is the token ledger market balances are held in. Journal registers
// an undo step for account balances.
type Ledger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
	Journal(undo func())
}

// Callee is invoked by call actions.
type Callee interface {
	Address() common.Address
	CallFunction(ctx context.Context, sender common.Address, account AccountInfo, data []byte) error
}

type AccountInfo struct {
	Owner  common.Address
	Number uint64
}

type ActionArgs struct {
	ActionType      ActionType
	AccountID       int
	Amount          *big.Int
	PrimaryMarketID uint64
	// OtherAddress is where withdrawals go and deposits come from.
	OtherAddress common.Address
	Callee       Callee
	Data         []byte
}

type accountKey struct {
	account AccountInfo
	market  uint64
}

type Solo struct {
	address  common.Address
	ledger   Ledger
	markets  []common.Address
	balances map[accountKey]*big.Int
	logger   *zap.Logger
}

// New creates a protocol with one market per token, numbered from zero.
func New(address common.Address, ledger Ledger, tokens []common.Address, logger *zap.Logger) *Solo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solo{
		address:  address,
		ledger:   ledger,
		markets:  append([]common.Address(nil), tokens...),
		balances: make(map[accountKey]*big.Int),
		logger:   logger.With(zap.String("solo", address.Hex())),
	}
}

func (s *Solo) Address() common.Address { return s.address }

func (s *Solo) GetNumMarkets() uint64 { return uint64(len(s.markets)) }

func (s *Solo) GetMarketTokenAddress(marketID uint64) (common.Address, error) {
	if marketID >= uint64(len(s.markets)) {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidMarket, marketID)
	}
	return s.markets[marketID], nil
}

// AccountBalance returns the signed balance of an account in a market.
func (s *Solo) AccountBalance(account AccountInfo, marketID uint64) *big.Int {
	if b, ok := s.balances[accountKey{account, marketID}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Operate applies actions in order on behalf of sender, then requires every
// touched account to hold a non-negative balance.
func (s *Solo) Operate(ctx context.Context, sender common.Address, accounts []AccountInfo, actions []ActionArgs) error {
	for _, a := range accounts {
		if a.Owner != sender {
			return fmt.Errorf("%w: %s for %s", ErrNotOperator, sender.Hex(), a.Owner.Hex())
		}
	}

	touched := make(map[accountKey]struct{})
	for i, action := range actions {
		if action.AccountID < 0 || action.AccountID >= len(accounts) {
			return fmt.Errorf("%w: action %d", ErrInvalidAccount, i)
		}
		account := accounts[action.AccountID]

		if action.ActionType == ActionCall {
			if action.Callee == nil {
				return fmt.Errorf("%w: call action %d has no callee", ErrUnknownAction, i)
			}
			if err := action.Callee.CallFunction(ctx, sender, account, action.Data); err != nil {
				return err
			}
			continue
		}

		token, err := s.GetMarketTokenAddress(action.PrimaryMarketID)
		if err != nil {
			return err
		}
		if action.Amount == nil || action.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: action %d", ErrInvalidAmount, i)
		}
		key := accountKey{account, action.PrimaryMarketID}
		touched[key] = struct{}{}

		switch action.ActionType {
		case ActionWithdraw:
			if err := s.ledger.Transfer(token, s.address, action.OtherAddress, action.Amount); err != nil {
				return fmt.Errorf("withdrawing market %d: %w", action.PrimaryMarketID, err)
			}
			s.adjust(key, new(big.Int).Neg(action.Amount))
		case ActionDeposit:
			if err := s.ledger.TransferFrom(token, s.address, action.OtherAddress, s.address, action.Amount); err != nil {
				return fmt.Errorf("depositing market %d: %w", action.PrimaryMarketID, err)
			}
			s.adjust(key, action.Amount)
		default:
			return fmt.Errorf("%w: %d", ErrUnknownAction, action.ActionType)
		}
	}

	for key := range touched {
		if s.balances[key].Sign() < 0 {
			return fmt.Errorf("%w: %s #%d market %d", ErrUndercollateralized, key.account.Owner.Hex(), key.account.Number, key.market)
		}
	}
	s.logger.Debug("Operation settled", zap.String("sender", sender.Hex()), zap.Int("actions", len(actions)))
	return nil
}

func (s *Solo) adjust(key accountKey, delta *big.Int) {
	old, existed := s.balances[key]
	updated := new(big.Int).Add(s.AccountBalance(key.account, key.market), delta)
	s.balances[key] = updated
	s.ledger.Journal(func() {
		if existed {
			s.balances[key] = old
		} else {
			delete(s.balances, key)
		}
	})
}
