package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/borrower"
	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/dex/sushiswap"
	"github.com/michaelpento.lv/flashlender/dex/uniswap"
	"github.com/michaelpento.lv/flashlender/facility/debttoken"
	"github.com/michaelpento.lv/flashlender/facility/lendingpool"
	"github.com/michaelpento.lv/flashlender/facility/solomargin"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/margin"
	"github.com/michaelpento.lv/flashlender/flashloan/minter"
	"github.com/michaelpento.lv/flashlender/flashloan/moneymarket"
	"github.com/michaelpento.lv/flashlender/flashloan/pair"
	"github.com/michaelpento.lv/flashlender/flashloan/termdebt"
	"github.com/michaelpento.lv/flashlender/flashloan/vault"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// ManagerName selects the routing manager instead of a single lender.
const ManagerName = "manager"

var (
	ErrUnknownAsset  = errors.New("simulator: unknown asset")
	ErrUnknownLender = errors.New("simulator: unknown lender")
)

// SimulationResult represents the result of a simulated flash loan
type SimulationResult struct {
	// ID tags the run in logs.
	ID     string
	Lender string
	Asset  string
	Amount *big.Int
	Mode   borrower.Action

	Success bool
	Fee     *big.Int

	// Facility balances are the liquidity behind the lender: the reserve it
	// lends from, or the asset's total supply for minting lenders.
	FacilityBefore *big.Int
	FacilityAfter  *big.Int
	ReceiverBefore *big.Int
	ReceiverAfter  *big.Int

	Error error
}

// LenderInfo describes a configured lender.
type LenderInfo struct {
	Name    string
	Kind    flashloan.Kind
	Address common.Address
	Assets  []string
}

// LenderQuote is one lender's terms for a loan.
type LenderQuote struct {
	Lender       string
	MaxFlashLoan *big.Int
	Fee          *big.Int
	Err          error
}

type Option func(*Simulator)

// WithClock sets the time debt series use to decide maturity.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

type entry struct {
	lender flashloan.Lender
	kind   flashloan.Kind
	// liquidity reports the facility-side amount of asset behind the lender.
	liquidity func(asset common.Address) *big.Int
}

// Simulator holds a world of facilities, adapters and one borrower on a
// shared in-memory ledger. It is not safe for concurrent use.
type Simulator struct {
	ledger    *ledger.Memory
	manager   *flashloan.Manager
	borrower  *borrower.FlashBorrower
	lenders   map[string]*entry
	order     []string
	assets    map[string]common.Address
	symbols   map[common.Address]string
	factories map[string]*uniswap.Factory
	now       func() time.Time
	logger    *zap.Logger
}

// New builds every lender of world. Manager metrics are registered with reg
// (nil leaves them unregistered).
func New(world *config.World, logger *zap.Logger, reg prometheus.Registerer, opts ...Option) (*Simulator, error) {
	if world == nil {
		return nil, fmt.Errorf("world cannot be nil")
	}
	if err := world.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Simulator{
		ledger:    ledger.NewMemory(logger),
		manager:   flashloan.NewFlashLoanManager(logger, reg),
		lenders:   make(map[string]*entry),
		assets:    make(map[string]common.Address, len(world.Assets)),
		symbols:   make(map[common.Address]string, len(world.Assets)),
		factories: make(map[string]*uniswap.Factory),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, symbol := range world.Assets {
		addr := config.AssetAddress(symbol)
		s.assets[symbol] = addr
		s.symbols[addr] = symbol
	}

	for _, cfg := range world.Lenders {
		if cfg.Name == ManagerName {
			return nil, fmt.Errorf("lender name %q is reserved", ManagerName)
		}
		e, err := s.build(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build lender %s: %w", cfg.Name, err)
		}
		if err := s.manager.Register(e.lender); err != nil {
			return nil, err
		}
		s.lenders[cfg.Name] = e
		s.order = append(s.order, cfg.Name)

		logger.Debug("Lender ready",
			zap.String("lender", cfg.Name),
			zap.Stringer("kind", e.kind),
			zap.String("address", e.lender.Address().Hex()))
	}

	name := world.Borrower.Name
	if name == "" {
		name = "borrower"
	}
	s.borrower = borrower.New(ledger.AddressOf("borrower:"+name), s.ledger, logger)
	if err := s.seed(s.borrower.Address(), world.Borrower.Balances); err != nil {
		return nil, fmt.Errorf("failed to fund borrower: %w", err)
	}

	return s, nil
}

func (s *Simulator) build(cfg config.LenderConfig) (*entry, error) {
	kind, _ := flashloan.ParseKind(cfg.Kind)
	address := config.LenderAddress(cfg.Name)
	facility := config.FacilityAddress(cfg.Name)

	switch kind {
	case flashloan.KindVault:
		if err := s.seed(address, cfg.Reserves); err != nil {
			return nil, err
		}
		l, err := vault.NewLender(s.ledger, vault.Config{
			Name:    cfg.Name,
			Address: address,
			FeeBps:  cfg.FeeBps,
			Assets:  s.addresses(cfg.Assets),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return &entry{lender: l, kind: kind, liquidity: s.balanceAt(address)}, nil

	case flashloan.KindMinter:
		l, err := minter.NewLender(s.ledger, minter.Config{
			Name:    cfg.Name,
			Address: s.assets[cfg.Token],
			FeeBps:  cfg.FeeBps,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return &entry{lender: l, kind: kind, liquidity: s.ledger.TotalSupply}, nil

	case flashloan.KindMoneyMarket:
		pool := lendingpool.New(facility, s.ledger, s.logger)
		depositor := ledger.AddressOf("depositor:" + cfg.Name)
		for _, symbol := range sortedSymbols(cfg.Reserves) {
			asset := s.assets[symbol]
			if _, err := pool.InitReserve(asset); err != nil {
				return nil, err
			}
			amount, _ := config.ParseAmount(cfg.Reserves[symbol])
			if err := s.ledger.Mint(asset, depositor, amount); err != nil {
				return nil, err
			}
			if err := s.ledger.Approve(asset, depositor, pool.Address(), amount); err != nil {
				return nil, err
			}
			if err := pool.Deposit(asset, depositor, amount); err != nil {
				return nil, err
			}
		}
		l, err := moneymarket.NewLender(s.ledger, pool, moneymarket.Config{
			Name:    cfg.Name,
			Address: address,
			Assets:  s.addresses(cfg.Assets),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return &entry{lender: l, kind: kind, liquidity: pool.AvailableLiquidity}, nil

	case flashloan.KindMargin:
		solo := solomargin.New(facility, s.ledger, s.addresses(cfg.Markets), s.logger)
		if err := s.seed(solo.Address(), cfg.Reserves); err != nil {
			return nil, err
		}
		l, err := margin.NewLender(s.ledger, solo, margin.Config{
			Name:    cfg.Name,
			Address: address,
			Assets:  s.addresses(cfg.Assets),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return &entry{lender: l, kind: kind, liquidity: s.balanceAt(solo.Address())}, nil

	case flashloan.KindPair:
		factory := s.factory(cfg.Exchange)
		var pairs [][2]common.Address
		for _, pc := range cfg.Pairs {
			tokenA, tokenB := s.assets[pc.Tokens[0]], s.assets[pc.Tokens[1]]
			p, ok := factory.GetPair(tokenA, tokenB)
			if !ok {
				var err error
				if p, err = factory.CreatePair(tokenA, tokenB); err != nil {
					return nil, err
				}
			}
			for i, token := range []common.Address{tokenA, tokenB} {
				amount, _ := config.ParseAmount(pc.Reserves[i])
				if err := s.ledger.Mint(token, p.Address(), amount); err != nil {
					return nil, err
				}
			}
			if err := p.Sync(); err != nil {
				return nil, err
			}
			pairs = append(pairs, [2]common.Address{tokenA, tokenB})
		}
		l, err := pair.NewLender(s.ledger, factory, pair.Config{
			Name:    cfg.Name,
			Address: address,
			Pairs:   pairs,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		liquidity := func(asset common.Address) *big.Int {
			p, ok := l.Pair(asset)
			if !ok {
				return new(big.Int)
			}
			return s.ledger.BalanceOf(asset, p.Address())
		}
		return &entry{lender: l, kind: kind, liquidity: liquidity}, nil

	case flashloan.KindTermDebt:
		series := make([]termdebt.Series, 0, len(cfg.Series))
		for _, sc := range cfg.Series {
			maturity, _ := sc.MaturityTime()
			series = append(series, debttoken.New(s.assets[sc.Name], sc.Name, maturity, s.ledger, s.logger, debttoken.WithClock(s.now)))
		}
		l, err := termdebt.NewLender(s.ledger, series, termdebt.Config{
			Name:    cfg.Name,
			Address: address,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return &entry{lender: l, kind: kind, liquidity: s.ledger.TotalSupply}, nil
	}

	return nil, fmt.Errorf("unsupported lender kind %q", cfg.Kind)
}

// factory returns the shared pair factory of an exchange.
func (s *Simulator) factory(exchange string) *uniswap.Factory {
	if exchange == "" {
		exchange = "uniswap"
	}
	if f, ok := s.factories[exchange]; ok {
		return f
	}
	var f *uniswap.Factory
	if exchange == "sushiswap" {
		f = sushiswap.NewFactory(s.ledger, s.logger)
	} else {
		f = uniswap.NewFactory(s.ledger, s.logger)
	}
	s.factories[exchange] = f
	return f
}

func (s *Simulator) seed(holder common.Address, balances map[string]string) error {
	for _, symbol := range sortedSymbols(balances) {
		amount, err := config.ParseAmount(balances[symbol])
		if err != nil {
			return err
		}
		if err := s.ledger.Mint(s.assets[symbol], holder, amount); err != nil {
			return fmt.Errorf("failed to mint %s: %w", symbol, err)
		}
	}
	return nil
}

func (s *Simulator) balanceAt(holder common.Address) func(common.Address) *big.Int {
	return func(asset common.Address) *big.Int {
		return s.ledger.BalanceOf(asset, holder)
	}
}

func (s *Simulator) addresses(symbols []string) []common.Address {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]common.Address, len(symbols))
	for i, symbol := range symbols {
		out[i] = s.assets[symbol]
	}
	return out
}

func (s *Simulator) Ledger() *ledger.Memory { return s.ledger }

func (s *Simulator) Manager() *flashloan.Manager { return s.manager }

func (s *Simulator) Borrower() *borrower.FlashBorrower { return s.borrower }

// Asset resolves a configured symbol.
func (s *Simulator) Asset(symbol string) (common.Address, error) {
	addr, ok := s.assets[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return addr, nil
}

// Symbol names a ledger asset, falling back to its address.
func (s *Simulator) Symbol(asset common.Address) string {
	if symbol, ok := s.symbols[asset]; ok {
		return symbol
	}
	return asset.Hex()
}

// Lender returns a configured lender, or the manager for ManagerName.
func (s *Simulator) Lender(name string) (flashloan.Lender, error) {
	if name == "" || name == ManagerName {
		return s.manager, nil
	}
	e, ok := s.lenders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLender, name)
	}
	return e.lender, nil
}

// Lenders describes the configured lenders in configuration order.
func (s *Simulator) Lenders() []LenderInfo {
	infos := make([]LenderInfo, 0, len(s.order))
	for _, name := range s.order {
		e := s.lenders[name]
		var symbols []string
		for _, asset := range e.lender.Assets() {
			symbols = append(symbols, s.Symbol(asset))
		}
		sort.Strings(symbols)
		infos = append(infos, LenderInfo{
			Name:    name,
			Kind:    e.kind,
			Address: e.lender.Address(),
			Assets:  symbols,
		})
	}
	return infos
}

// Quote returns the lender the manager would route amount of symbol to.
func (s *Simulator) Quote(symbol string, amount *big.Int) (string, *big.Int, error) {
	asset, err := s.Asset(symbol)
	if err != nil {
		return "", nil, err
	}
	lender, fee, err := s.manager.Quote(asset, amount)
	if err != nil {
		return "", nil, err
	}
	return lender.String(), fee, nil
}

// Quotes lists every lender's supply and fee for amount of symbol.
func (s *Simulator) Quotes(symbol string, amount *big.Int) ([]LenderQuote, error) {
	asset, err := s.Asset(symbol)
	if err != nil {
		return nil, err
	}
	quotes := make([]LenderQuote, 0, len(s.order))
	for _, name := range s.order {
		l := s.lenders[name].lender
		q := LenderQuote{Lender: name, MaxFlashLoan: l.MaxFlashLoan(asset)}
		q.Fee, q.Err = l.FlashFee(asset, amount)
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// SimulateFlashLoan has the borrower take amount of symbol from the named
// lender and handle it according to mode. A rejected loan is reported in the
// result; only unknown names are returned as errors.
func (s *Simulator) SimulateFlashLoan(ctx context.Context, lenderName, symbol string, amount *big.Int, mode borrower.Action) (*SimulationResult, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}
	asset, err := s.Asset(symbol)
	if err != nil {
		return nil, err
	}
	lender, err := s.Lender(lenderName)
	if err != nil {
		return nil, err
	}

	result := &SimulationResult{
		ID:     uuid.NewString(),
		Lender: lender.String(),
		Asset:  symbol,
		Amount: new(big.Int).Set(amount),
		Mode:   mode,
		Fee:    new(big.Int),
	}

	// The manager's facility is the one it would route to.
	routed := lender == flashloan.Lender(s.manager)
	target := lender
	if routed {
		if quoted, _, err := s.manager.Quote(asset, amount); err == nil {
			target = quoted
			result.Lender = quoted.String()
		}
	}
	liquidity := func() *big.Int { return new(big.Int) }
	if e, ok := s.lenders[result.Lender]; ok && target == e.lender {
		liquidity = func() *big.Int { return e.liquidity(asset) }
	}
	if fee, err := target.FlashFee(asset, amount); err == nil {
		result.Fee = fee
	}

	holder := s.borrower.Address()
	result.FacilityBefore = liquidity()
	result.ReceiverBefore = s.ledger.BalanceOf(asset, holder)

	err = s.borrower.Borrow(ctx, lender, asset, amount, mode)

	result.FacilityAfter = liquidity()
	result.ReceiverAfter = s.ledger.BalanceOf(asset, holder)
	result.Success = err == nil
	result.Error = err

	// The manager records its own loans.
	if !routed {
		if err != nil {
			s.manager.Metrics().ObserveError(lender.String(), flashloan.Cause(err))
		} else {
			s.manager.Metrics().ObserveLoan(lender.String(), amount, result.Fee)
		}
	}

	s.logger.Info("Simulated flash loan",
		zap.String("id", result.ID),
		zap.String("lender", result.Lender),
		zap.String("asset", symbol),
		zap.Stringer("amount", amount),
		zap.Stringer("mode", mode),
		zap.Bool("success", result.Success),
		zap.Error(err))

	return result, nil
}

func sortedSymbols(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
