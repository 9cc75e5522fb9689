package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Atomic runs fn as one all-or-nothing operation. When fn returns an error
// or panics, every mutation recorded since Atomic was entered is undone.
// Calls may nest; an inner failure only rewinds to the inner entry point.
func (m *Memory) Atomic(fn func() error) (err error) {
	mark := len(m.journal)
	m.depth++
	defer func() {
		m.depth--
		if r := recover(); r != nil {
			m.revert(mark)
			m.commit()
			panic(r)
		}
		if err != nil {
			m.revert(mark)
		}
		m.commit()
	}()
	return fn()
}

// Journal registers an undo step for state kept outside the ledger, such as
// pool reserves. Outside of Atomic there is nothing to undo and the step is
// dropped.
func (m *Memory) Journal(undo func()) {
	m.record(undo)
}

func (m *Memory) record(undo func()) {
	if m.depth == 0 {
		return
	}
	m.journal = append(m.journal, undo)
}

func (m *Memory) revert(mark int) {
	n := len(m.journal) - mark
	for i := len(m.journal) - 1; i >= mark; i-- {
		m.journal[i]()
	}
	m.journal = m.journal[:mark]
	if n > 0 {
		m.logger.Debug("Reverted ledger mutations", zap.Int("entries", n), zap.Int("depth", m.depth))
	}
}

// commit drops the journal once the outermost operation has finished.
func (m *Memory) commit() {
	if m.depth == 0 {
		m.journal = m.journal[:0]
	}
}

func (m *Memory) setBalance(asset, holder common.Address, v *uint256.Int) {
	holders, ok := m.balances[asset]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		m.balances[asset] = holders
	}
	prev, existed := holders[holder]
	m.record(func() {
		if existed {
			m.balances[asset][holder] = prev
		} else {
			delete(m.balances[asset], holder)
		}
	})
	holders[holder] = v
}

func (m *Memory) setAllowance(asset, owner, spender common.Address, v *uint256.Int) {
	entries, ok := m.allowances[asset]
	if !ok {
		entries = make(map[allowanceKey]*uint256.Int)
		m.allowances[asset] = entries
	}
	key := allowanceKey{owner, spender}
	prev, existed := entries[key]
	m.record(func() {
		if existed {
			m.allowances[asset][key] = prev
		} else {
			delete(m.allowances[asset], key)
		}
	})
	entries[key] = v
}

func (m *Memory) setSupply(asset common.Address, v *uint256.Int) {
	prev, existed := m.supply[asset]
	m.record(func() {
		if existed {
			m.supply[asset] = prev
		} else {
			delete(m.supply, asset)
		}
	})
	m.supply[asset] = v
}
