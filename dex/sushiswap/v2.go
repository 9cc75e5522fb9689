// Package sushiswap configures the Uniswap V2 pair model for the Sushiswap
// deployment.
package sushiswap

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/dex/uniswap"
)

// Factory addresses
var (
	MainnetFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	PairInitCode   = common.FromHex("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303")
)

// NewFactory creates a Sushiswap factory. Its pairs behave like Uniswap V2
// pairs and differ only in their addresses.
func NewFactory(ledger uniswap.Ledger, logger *zap.Logger) *uniswap.Factory {
	return uniswap.NewFactoryAt("SushiswapV2", MainnetFactory, PairInitCode, ledger, logger)
}
