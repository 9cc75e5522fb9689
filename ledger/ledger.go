package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ledger: transfer amount exceeds allowance")
	ErrBurnExceedsBalance    = errors.New("ledger: burn amount exceeds balance")
	ErrOverflow              = errors.New("ledger: amount overflows 256 bits")
	ErrZeroAddress           = errors.New("ledger: zero address")
	ErrNegativeAmount        = errors.New("ledger: amount must not be negative")
)

var maxAllowance = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Memory is an in-memory multi-asset ledger. Every mutation made inside
// Atomic is journaled and undone if the enclosing function fails.
//
// Memory is not safe for concurrent use. Flash loans run on a single call
// stack and the caller that entered Atomic owns the ledger until it returns.
type Memory struct {
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[common.Address]map[allowanceKey]*uint256.Int
	supply     map[common.Address]*uint256.Int

	journal []func()
	depth   int

	logger *zap.Logger
}

// NewMemory creates an empty ledger.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[allowanceKey]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
		logger:     logger,
	}
}

// BalanceOf returns the balance of holder in asset.
func (m *Memory) BalanceOf(asset, holder common.Address) *big.Int {
	return m.balance(asset, holder).ToBig()
}

// TotalSupply returns the amount of asset in circulation.
func (m *Memory) TotalSupply(asset common.Address) *big.Int {
	if v, ok := m.supply[asset]; ok {
		return v.ToBig()
	}
	return new(big.Int)
}

// Allowance returns how much spender may still move out of owner's balance.
func (m *Memory) Allowance(asset, owner, spender common.Address) *big.Int {
	return m.allowance(asset, owner, spender).ToBig()
}

// Transfer moves amount of asset from one holder to another.
func (m *Memory) Transfer(asset, from, to common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return m.move(asset, from, to, value)
}

// Approve sets the allowance of spender over owner's balance.
func (m *Memory) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	m.setAllowance(asset, owner, spender, value)
	return nil
}

// TransferFrom moves amount of asset out of from on behalf of spender,
// consuming allowance. A maximal allowance is treated as unlimited.
func (m *Memory) TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if spender == from {
		return m.move(asset, from, to, value)
	}
	current := m.allowance(asset, from, spender)
	if current.Lt(value) {
		return fmt.Errorf("%w: allowance %s, need %s", ErrInsufficientAllowance, current.Dec(), value.Dec())
	}
	if err := m.move(asset, from, to, value); err != nil {
		return err
	}
	if !current.Eq(maxAllowance) {
		m.setAllowance(asset, from, spender, new(uint256.Int).Sub(current, value))
	}
	return nil
}

// Mint creates amount of asset in the balance of to.
func (m *Memory) Mint(asset, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	supply, overflow := new(uint256.Int).AddOverflow(m.totalSupply(asset), value)
	if overflow {
		return fmt.Errorf("%w: minting %s", ErrOverflow, value.Dec())
	}
	m.setSupply(asset, supply)
	m.setBalance(asset, to, new(uint256.Int).Add(m.balance(asset, to), value))
	return nil
}

// Burn destroys amount of asset held by from.
func (m *Memory) Burn(asset, from common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	current := m.balance(asset, from)
	if current.Lt(value) {
		return fmt.Errorf("%w: balance %s, burning %s", ErrBurnExceedsBalance, current.Dec(), value.Dec())
	}
	m.setBalance(asset, from, new(uint256.Int).Sub(current, value))
	m.setSupply(asset, new(uint256.Int).Sub(m.totalSupply(asset), value))
	return nil
}

func (m *Memory) move(asset, from, to common.Address, value *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	current := m.balance(asset, from)
	if current.Lt(value) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, current.Dec(), value.Dec())
	}
	m.setBalance(asset, from, new(uint256.Int).Sub(current, value))
	// Supply bounds every balance, so the credit cannot overflow.
	m.setBalance(asset, to, new(uint256.Int).Add(m.balance(asset, to), value))
	return nil
}

func (m *Memory) balance(asset, holder common.Address) *uint256.Int {
	if v, ok := m.balances[asset][holder]; ok {
		return v
	}
	return new(uint256.Int)
}

func (m *Memory) allowance(asset, owner, spender common.Address) *uint256.Int {
	if v, ok := m.allowances[asset][allowanceKey{owner, spender}]; ok {
		return v
	}
	return new(uint256.Int)
}

func (m *Memory) totalSupply(asset common.Address) *uint256.Int {
	if v, ok := m.supply[asset]; ok {
		return v
	}
	return new(uint256.Int)
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
