package uniswap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/dex"
)

// Contract addresses
var (
	MainnetFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	PairInitCode   = common.FromHex("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

var (
	ErrIdenticalAddresses = errors.New("UniswapV2: IDENTICAL_ADDRESSES")
	ErrZeroAddress        = errors.New("UniswapV2: ZERO_ADDRESS")
	ErrPairExists         = errors.New("UniswapV2: PAIR_EXISTS")
	ErrPairNotFound       = errors.New("UniswapV2: PAIR_NOT_FOUND")
)

var _ dex.Exchange = (*Factory)(nil)

// Factory creates and indexes constant-product pairs held in one ledger.
type Factory struct {
	name     string
	address  common.Address
	initCode []byte
	ledger   Ledger
	pairs    map[[2]common.Address]*Pair
	all      []*Pair
	logger   *zap.Logger
}

// NewFactory creates a Uniswap V2 factory at the mainnet address.
func NewFactory(ledger Ledger, logger *zap.Logger) *Factory {
	return NewFactoryAt("UniswapV2", MainnetFactory, PairInitCode, ledger, logger)
}

// NewFactoryAt creates a factory for a Uniswap V2 fork deployed at address
// whose pairs have the given init code hash.
func NewFactoryAt(name string, address common.Address, initCode []byte, ledger Ledger, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		name:     name,
		address:  address,
		initCode: initCode,
		ledger:   ledger,
		pairs:    make(map[[2]common.Address]*Pair),
		logger:   logger.With(zap.String("exchange", name)),
	}
}

// GetName returns the exchange name
func (f *Factory) GetName() string {
	return f.name
}

func (f *Factory) Address() common.Address {
	return f.address
}

// CreatePair deploys the pair for two tokens at its CREATE2 address.
func (f *Factory) CreatePair(tokenA, tokenB common.Address) (*Pair, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalAddresses
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	if token0 == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	key := [2]common.Address{token0, token1}
	if _, ok := f.pairs[key]; ok {
		return nil, ErrPairExists
	}

	pair := newPair(f.PairFor(token0, token1), f.address, token0, token1, f.ledger, f.logger)
	f.pairs[key] = pair
	f.all = append(f.all, pair)

	f.logger.Debug("Pair created",
		zap.String("pair", pair.Address().Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()))
	return pair, nil
}

// GetPair returns the pair for two tokens in either order.
func (f *Factory) GetPair(tokenA, tokenB common.Address) (*Pair, bool) {
	token0, token1 := SortTokens(tokenA, tokenB)
	pair, ok := f.pairs[[2]common.Address{token0, token1}]
	return pair, ok
}

// AllPairs returns the pairs in creation order.
func (f *Factory) AllPairs() []*Pair {
	return append([]*Pair(nil), f.all...)
}

// PairFor calculates the pair address for two tokens
func (f *Factory) PairFor(tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{
		0xff,
	}, f.address.Bytes(), salt, f.initCode))
}

// SortTokens orders two token addresses the way pairs store them.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// GetReserves returns the reserves of a token pair
func (f *Factory) GetReserves(ctx context.Context, tokenA, tokenB common.Address) (*dex.Reserves, error) {
	pair, ok := f.GetPair(tokenA, tokenB)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tokenA.Hex(), tokenB.Hex())
	}

	reserve0, reserve1 := pair.GetReserves()
	if tokenA != pair.Token0() {
		reserve0, reserve1 = reserve1, reserve0
	}
	return &dex.Reserves{
		Pair:     pair.Address(),
		Reserve0: reserve0,
		Reserve1: reserve1,
	}, nil
}

// EstimateReturn estimates the return amount for a swap
func (f *Factory) EstimateReturn(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn

	// For each pair in path, calculate output amount
	for i := 0; i < len(path)-1; i++ {
		reserves, err := f.GetReserves(ctx, path[i], path[i+1])
		if err != nil {
			return nil, err
		}

		amounts[i+1] = GetAmountOut(amounts[i], reserves.Reserve0, reserves.Reserve1)
	}

	return amounts[len(amounts)-1], nil
}

// GetAmountOut calculates output amount for an input amount
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(1000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
