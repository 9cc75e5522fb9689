package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	dai   = AddressOf("asset:DAI")
	alice = AddressOf("alice")
	bob   = AddressOf("bob")
)

func TestMemoryTransfers(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))

	t.Run("Transfer", func(t *testing.T) {
		require.NoError(t, m.Transfer(dai, alice, bob, big.NewInt(40)))
		assert.Equal(t, "60", m.BalanceOf(dai, alice).String())
		assert.Equal(t, "40", m.BalanceOf(dai, bob).String())
		assert.Equal(t, "100", m.TotalSupply(dai).String())
	})

	t.Run("TransferExceedsBalance", func(t *testing.T) {
		err := m.Transfer(dai, bob, alice, big.NewInt(41))
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "40", m.BalanceOf(dai, bob).String())
	})

	t.Run("TransferToZeroAddress", func(t *testing.T) {
		require.ErrorIs(t, m.Transfer(dai, bob, common.Address{}, big.NewInt(1)), ErrZeroAddress)
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		require.ErrorIs(t, m.Transfer(dai, bob, alice, big.NewInt(-1)), ErrNegativeAmount)
		require.ErrorIs(t, m.Transfer(dai, bob, alice, nil), ErrNegativeAmount)
	})
}

func TestMemoryAllowances(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))
	require.NoError(t, m.Approve(dai, alice, bob, big.NewInt(30)))

	require.NoError(t, m.TransferFrom(dai, bob, alice, bob, big.NewInt(20)))
	assert.Equal(t, "10", m.Allowance(dai, alice, bob).String())

	err := m.TransferFrom(dai, bob, alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, "80", m.BalanceOf(dai, alice).String())

	require.NoError(t, m.Approve(dai, alice, bob, math.MaxBig256))
	require.NoError(t, m.TransferFrom(dai, bob, alice, bob, big.NewInt(50)))
	assert.Equal(t, 0, m.Allowance(dai, alice, bob).Cmp(math.MaxBig256), "unlimited allowance is not consumed")

	// Moving your own funds needs no allowance.
	require.NoError(t, m.TransferFrom(dai, bob, bob, alice, big.NewInt(70)))
	assert.Equal(t, "100", m.BalanceOf(dai, alice).String())
}

func TestMemoryMintBurn(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))

	require.NoError(t, m.Mint(dai, alice, math.MaxBig256))
	require.ErrorIs(t, m.Mint(dai, bob, big.NewInt(1)), ErrOverflow)

	require.NoError(t, m.Burn(dai, alice, math.MaxBig256))
	assert.Zero(t, m.TotalSupply(dai).Sign())

	err := m.Burn(dai, alice, big.NewInt(1))
	require.ErrorIs(t, err, ErrBurnExceedsBalance)

	tooBig := new(big.Int).Add(math.MaxBig256, big.NewInt(1))
	require.ErrorIs(t, m.Mint(dai, alice, tooBig), ErrOverflow)
}

func TestMemoryAtomic(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("RevertsOnError", func(t *testing.T) {
		m := NewMemory(zaptest.NewLogger(t))
		require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))

		err := m.Atomic(func() error {
			require.NoError(t, m.Transfer(dai, alice, bob, big.NewInt(60)))
			require.NoError(t, m.Approve(dai, bob, alice, big.NewInt(5)))
			require.NoError(t, m.Mint(dai, bob, big.NewInt(7)))
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, "100", m.BalanceOf(dai, alice).String())
		assert.Zero(t, m.BalanceOf(dai, bob).Sign())
		assert.Zero(t, m.Allowance(dai, bob, alice).Sign())
		assert.Equal(t, "100", m.TotalSupply(dai).String())
	})

	t.Run("NestedFailureRewindsInnerOnly", func(t *testing.T) {
		m := NewMemory(zaptest.NewLogger(t))
		require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))

		err := m.Atomic(func() error {
			require.NoError(t, m.Transfer(dai, alice, bob, big.NewInt(10)))
			inner := m.Atomic(func() error {
				require.NoError(t, m.Transfer(dai, alice, bob, big.NewInt(20)))
				return errBoom
			})
			require.ErrorIs(t, inner, errBoom)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "90", m.BalanceOf(dai, alice).String())
		assert.Equal(t, "10", m.BalanceOf(dai, bob).String())
		assert.Empty(t, m.journal)
	})

	t.Run("OuterFailureRewindsCommittedInner", func(t *testing.T) {
		m := NewMemory(zaptest.NewLogger(t))
		require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))

		err := m.Atomic(func() error {
			require.NoError(t, m.Atomic(func() error {
				return m.Transfer(dai, alice, bob, big.NewInt(20))
			}))
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, "100", m.BalanceOf(dai, alice).String())
	})

	t.Run("RevertsOnPanic", func(t *testing.T) {
		m := NewMemory(zaptest.NewLogger(t))
		require.NoError(t, m.Mint(dai, alice, big.NewInt(100)))

		assert.Panics(t, func() {
			_ = m.Atomic(func() error {
				_ = m.Transfer(dai, alice, bob, big.NewInt(100))
				panic("callback blew up")
			})
		})
		assert.Equal(t, "100", m.BalanceOf(dai, alice).String())
		assert.Zero(t, m.depth)
	})

	t.Run("JournalHooks", func(t *testing.T) {
		m := NewMemory(zaptest.NewLogger(t))
		reserve := 10

		m.Journal(func() { reserve = -1 })
		err := m.Atomic(func() error {
			old := reserve
			m.Journal(func() { reserve = old })
			reserve = 42
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 10, reserve, "hooks outside Atomic are dropped")
	})
}

func TestAddressOf(t *testing.T) {
	assert.Equal(t, AddressOf("asset:DAI"), dai)
	assert.NotEqual(t, AddressOf("asset:DAI"), AddressOf("asset:WETH"))
}
