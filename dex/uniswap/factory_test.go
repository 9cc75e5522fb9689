package uniswap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/ledger"
)

var (
	weth = ledger.AddressOf("asset:WETH")
	dai  = ledger.AddressOf("asset:DAI")
	usdc = ledger.AddressOf("asset:USDC")
)

// seedPair creates a pair and funds both sides with reserve.
func seedPair(t *testing.T, mem *ledger.Memory, factory *Factory, tokenA, tokenB common.Address, reserve int64) *Pair {
	t.Helper()
	pair, err := factory.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	require.NoError(t, mem.Mint(tokenA, pair.Address(), big.NewInt(reserve)))
	require.NoError(t, mem.Mint(tokenB, pair.Address(), big.NewInt(reserve)))
	require.NoError(t, pair.Sync())
	return pair
}

func TestCreatePair(t *testing.T) {
	mem := ledger.NewMemory(zaptest.NewLogger(t))
	factory := NewFactory(mem, zaptest.NewLogger(t))

	pair, err := factory.CreatePair(weth, dai)
	require.NoError(t, err)
	assert.Equal(t, factory.PairFor(dai, weth), pair.Address())
	assert.Equal(t, factory.Address(), pair.Factory())

	token0, token1 := SortTokens(weth, dai)
	assert.Equal(t, token0, pair.Token0())
	assert.Equal(t, token1, pair.Token1())

	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	assert.Equal(t, crypto.CreateAddress2(MainnetFactory, common.BytesToHash(salt), PairInitCode), pair.Address())

	got, ok := factory.GetPair(dai, weth)
	require.True(t, ok)
	assert.Same(t, pair, got)

	_, err = factory.CreatePair(dai, weth)
	require.ErrorIs(t, err, ErrPairExists)
	_, err = factory.CreatePair(dai, dai)
	require.ErrorIs(t, err, ErrIdenticalAddresses)
	_, err = factory.CreatePair(common.Address{}, dai)
	require.ErrorIs(t, err, ErrZeroAddress)

	_, ok = factory.GetPair(weth, usdc)
	assert.False(t, ok)
	assert.Len(t, factory.AllPairs(), 1)
}

func TestFactoryQuotes(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory(zaptest.NewLogger(t))
	factory := NewFactory(mem, zaptest.NewLogger(t))
	seedPair(t, mem, factory, weth, dai, 100000)

	reserves, err := factory.GetReserves(ctx, dai, weth)
	require.NoError(t, err)
	assert.Equal(t, "100000", reserves.Reserve0.String())
	assert.Equal(t, "100000", reserves.Reserve1.String())

	_, err = factory.GetReserves(ctx, weth, usdc)
	require.ErrorIs(t, err, ErrPairNotFound)

	out, err := factory.EstimateReturn(ctx, big.NewInt(1000), []common.Address{weth, dai})
	require.NoError(t, err)
	assert.Equal(t, GetAmountOut(big.NewInt(1000), big.NewInt(100000), big.NewInt(100000)).String(), out.String())
	assert.Equal(t, "987", out.String())

	_, err = factory.EstimateReturn(ctx, big.NewInt(1), []common.Address{weth})
	require.Error(t, err)
}

func TestAmountMath(t *testing.T) {
	tests := []struct {
		name              string
		amount, rIn, rOut int64
		wantOut           string
	}{
		{"balanced", 1000, 100000, 100000, "987"},
		{"zero amount", 0, 100000, 100000, "0"},
		{"empty reserve", 1000, 0, 100000, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, rIn, rOut := big.NewInt(tt.amount), big.NewInt(tt.rIn), big.NewInt(tt.rOut)
			assert.Equal(t, tt.wantOut, GetAmountOut(amount, rIn, rOut).String())
		})
	}
}
