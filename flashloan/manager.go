package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/ledger"
	"github.com/michaelpento.lv/flashlender/utils/metrics"
)

// Manager routes flash loans to the cheapest registered lender that can
// serve them. It satisfies Lender itself, so borrowers can treat a set of
// facilities as one.
type Manager struct {
	mu      sync.RWMutex
	lenders []Lender
	names   map[string]struct{}
	metrics *metrics.LenderMetrics
	logger  *zap.Logger
}

// NewFlashLoanManager creates a manager whose metrics are registered with
// reg (nil leaves them unregistered).
func NewFlashLoanManager(logger *zap.Logger, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		names:   make(map[string]struct{}),
		metrics: metrics.NewLenderMetrics("flashlender", reg),
		logger:  logger,
	}
}

// Register adds a lender. Lender names must be unique.
func (m *Manager) Register(lender Lender) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := lender.String()
	if _, ok := m.names[name]; ok {
		return fmt.Errorf("lender %q already registered", name)
	}
	m.names[name] = struct{}{}
	m.lenders = append(m.lenders, lender)
	return nil
}

// Lenders returns the registered lenders in registration order.
func (m *Manager) Lenders() []Lender {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Lender(nil), m.lenders...)
}

// Metrics exposes the manager's metric set.
func (m *Manager) Metrics() *metrics.LenderMetrics {
	return m.metrics
}

// Address identifies the manager. It never holds funds.
func (m *Manager) Address() common.Address {
	return ledger.AddressOf("flashloan-manager")
}

func (m *Manager) String() string {
	return "manager"
}

// Assets returns the union of the registered lenders' recognized assets.
func (m *Manager) Assets() []common.Address {
	seen := make(map[common.Address]struct{})
	var assets []common.Address
	for _, lender := range m.Lenders() {
		for _, asset := range lender.Assets() {
			if _, ok := seen[asset]; ok {
				continue
			}
			seen[asset] = struct{}{}
			assets = append(assets, asset)
		}
	}
	SortAssets(assets)
	return assets
}

// MaxFlashLoan returns the largest single loan any registered lender offers.
func (m *Manager) MaxFlashLoan(asset common.Address) *big.Int {
	best := new(big.Int)
	for _, lender := range m.Lenders() {
		if max := lender.MaxFlashLoan(asset); max.Cmp(best) > 0 {
			best = max
		}
	}
	return best
}

// FlashFee returns the fee of the lender Quote would select.
func (m *Manager) FlashFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	_, fee, err := m.Quote(asset, amount)
	return fee, err
}

// Quote selects the lender with the lowest fee among those whose current
// supply covers amount. Ties go to the earliest registered lender.
func (m *Manager) Quote(asset common.Address, amount *big.Int) (Lender, *big.Int, error) {
	var (
		bestLender Lender
		bestFee    *big.Int
		recognized bool
	)

	for _, lender := range m.Lenders() {
		fee, err := lender.FlashFee(asset, amount)
		if err != nil {
			m.logger.Debug("Lender cannot quote asset",
				zap.String("lender", lender.String()),
				zap.String("asset", asset.Hex()),
				zap.Error(err))
			continue
		}
		recognized = true

		if amount != nil && lender.MaxFlashLoan(asset).Cmp(amount) < 0 {
			continue
		}
		if bestFee == nil || fee.Cmp(bestFee) < 0 {
			bestLender = lender
			bestFee = fee
		}
	}

	switch {
	case bestLender != nil:
		return bestLender, bestFee, nil
	case recognized:
		return nil, nil, fmt.Errorf("%w: no lender can supply %s of %s", ErrInsufficientSupply, amount, asset.Hex())
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
}

// FlashLoan executes the loan against the quoted lender.
func (m *Manager) FlashLoan(ctx context.Context, initiator common.Address, receiver Borrower, asset common.Address, amount *big.Int, data []byte) error {
	start := time.Now()

	if amount == nil || amount.Sign() <= 0 {
		m.metrics.ObserveError(m.String(), Cause(ErrInvalidAmount))
		return ErrInvalidAmount
	}

	lender, fee, err := m.Quote(asset, amount)
	if err != nil {
		m.metrics.ObserveError(m.String(), Cause(err))
		return fmt.Errorf("failed to select lender: %w", err)
	}

	name := lender.String()
	m.metrics.Selections.WithLabelValues(name).Inc()
	m.metrics.ActiveLoans.Inc()
	defer func() {
		m.metrics.ActiveLoans.Dec()
		m.metrics.Latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	m.logger.Debug("Routing flash loan",
		zap.String("lender", name),
		zap.String("asset", asset.Hex()),
		zap.Stringer("amount", amount),
		zap.Stringer("fee", fee))

	if err := lender.FlashLoan(ctx, initiator, receiver, asset, amount, data); err != nil {
		m.metrics.ObserveError(name, Cause(err))
		m.logger.Warn("Flash loan aborted",
			zap.String("lender", name),
			zap.String("asset", asset.Hex()),
			zap.Error(err))
		return err
	}

	m.metrics.ObserveLoan(name, amount, fee)
	return nil
}

// SortAssets orders assets by address so recognized sets print stably.
func SortAssets(assets []common.Address) {
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Cmp(assets[j]) < 0
	})
}
