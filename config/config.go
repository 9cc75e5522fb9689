package config

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// World describes a simulated set of assets, flash lenders and the borrower
// that uses them.
type World struct {
	Assets   []string       `yaml:"assets"`
	Borrower BorrowerConfig `yaml:"borrower"`
	Lenders  []LenderConfig `yaml:"lenders"`
}

type BorrowerConfig struct {
	Name string `yaml:"name"`
	// Balances are the borrower's opening holdings, keyed by asset symbol.
	Balances map[string]string `yaml:"balances"`
}

// LenderConfig defines one flash lender and the facility behind it. Which
// fields apply depends on Kind.
type LenderConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// FeeBps is the fee rate of vault and minter lenders.
	FeeBps uint64 `yaml:"fee_bps"`
	// Assets restricts the lender to these symbols. Vaults require it; money
	// market and margin lenders default to everything their facility lists.
	Assets []string `yaml:"assets"`
	// Reserves seeds facility liquidity, keyed by asset symbol.
	Reserves map[string]string `yaml:"reserves"`

	// Token is the symbol a minter lends.
	Token string `yaml:"token"`
	// Markets lists a margin facility's markets in id order.
	Markets []string `yaml:"markets"`
	// Exchange selects the pair factory: uniswap (default) or sushiswap.
	Exchange string         `yaml:"exchange"`
	Pairs    []PairConfig   `yaml:"pairs"`
	Series   []SeriesConfig `yaml:"series"`
}

type PairConfig struct {
	Tokens   []string `yaml:"tokens"`
	Reserves []string `yaml:"reserves"`
}

type SeriesConfig struct {
	Name string `yaml:"name"`
	// Maturity is an RFC 3339 timestamp.
	Maturity string `yaml:"maturity"`
}

// LoadWorld reads and validates a world file.
func LoadWorld(path string) (*World, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read world file: %w", err)
	}

	var world World
	if err := yaml.Unmarshal(raw, &world); err != nil {
		return nil, fmt.Errorf("failed to decode world file: %w", err)
	}

	if err := world.Validate(); err != nil {
		return nil, err
	}
	return &world, nil
}

// Validate reports every problem in the world at once.
func (w *World) Validate() error {
	var errors []string

	if len(w.Assets) == 0 {
		errors = append(errors, "at least one asset must be listed")
	}
	known := make(map[string]bool, len(w.Assets))
	for _, symbol := range w.Assets {
		if symbol == "" {
			errors = append(errors, "asset symbol cannot be empty")
			continue
		}
		if known[symbol] {
			errors = append(errors, fmt.Sprintf("asset %s listed twice", symbol))
		}
		known[symbol] = true
	}

	for _, symbol := range sortedKeys(w.Borrower.Balances) {
		if !known[symbol] {
			errors = append(errors, fmt.Sprintf("borrower: unknown asset %s", symbol))
		}
		if _, err := ParseAmount(w.Borrower.Balances[symbol]); err != nil {
			errors = append(errors, fmt.Sprintf("borrower: balance of %s: %v", symbol, err))
		}
	}

	if len(w.Lenders) == 0 {
		errors = append(errors, "at least one lender must be defined")
	}
	names := make(map[string]bool, len(w.Lenders))
	for i := range w.Lenders {
		l := &w.Lenders[i]
		label := l.Name
		if label == "" {
			label = fmt.Sprintf("lenders[%d]", i)
			errors = append(errors, fmt.Sprintf("%s: name cannot be empty", label))
		} else if names[l.Name] {
			errors = append(errors, fmt.Sprintf("lender %s defined twice", l.Name))
		}
		names[l.Name] = true

		for _, problem := range l.validate(known) {
			errors = append(errors, fmt.Sprintf("%s: %s", label, problem))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("world validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (l *LenderConfig) validate(known map[string]bool) []string {
	var problems []string

	kind, ok := flashloan.ParseKind(l.Kind)
	if !ok {
		return append(problems, fmt.Sprintf("unknown kind %q", l.Kind))
	}

	checkSymbol := func(field, symbol string) {
		if !known[symbol] {
			problems = append(problems, fmt.Sprintf("%s: unknown asset %s", field, symbol))
		}
	}
	for _, symbol := range l.Assets {
		checkSymbol("assets", symbol)
	}
	for _, symbol := range sortedKeys(l.Reserves) {
		checkSymbol("reserves", symbol)
		if _, err := ParseAmount(l.Reserves[symbol]); err != nil {
			problems = append(problems, fmt.Sprintf("reserves: %s: %v", symbol, err))
		}
	}
	if l.FeeBps > 0 && kind != flashloan.KindVault && kind != flashloan.KindMinter {
		problems = append(problems, fmt.Sprintf("fee_bps is fixed for %s lenders", kind))
	}

	switch kind {
	case flashloan.KindVault:
		if len(l.Assets) == 0 {
			problems = append(problems, "vault needs at least one asset")
		}
	case flashloan.KindMinter:
		if l.Token == "" {
			problems = append(problems, "minter needs a token")
		} else {
			checkSymbol("token", l.Token)
		}
	case flashloan.KindMoneyMarket:
		if len(l.Reserves) == 0 {
			problems = append(problems, "money market needs at least one reserve")
		}
		for _, symbol := range l.Assets {
			if _, ok := l.Reserves[symbol]; !ok {
				problems = append(problems, fmt.Sprintf("assets: %s has no reserve", symbol))
			}
		}
	case flashloan.KindMargin:
		if len(l.Markets) == 0 {
			problems = append(problems, "margin facility needs at least one market")
		}
		markets := make(map[string]bool, len(l.Markets))
		for _, symbol := range l.Markets {
			checkSymbol("markets", symbol)
			markets[symbol] = true
		}
		for _, symbol := range append(append([]string(nil), l.Assets...), sortedKeys(l.Reserves)...) {
			if !markets[symbol] {
				problems = append(problems, fmt.Sprintf("%s has no market", symbol))
			}
		}
	case flashloan.KindPair:
		switch l.Exchange {
		case "", "uniswap", "sushiswap":
		default:
			problems = append(problems, fmt.Sprintf("unknown exchange %q", l.Exchange))
		}
		if len(l.Pairs) == 0 {
			problems = append(problems, "pair lender needs at least one pair")
		}
		for _, p := range l.Pairs {
			if len(p.Tokens) != 2 || len(p.Reserves) != 2 {
				problems = append(problems, "pairs: need exactly two tokens and two reserves")
				continue
			}
			if p.Tokens[0] == p.Tokens[1] {
				problems = append(problems, fmt.Sprintf("pairs: identical tokens %s", p.Tokens[0]))
			}
			for i, symbol := range p.Tokens {
				checkSymbol("pairs", symbol)
				if _, err := ParseAmount(p.Reserves[i]); err != nil {
					problems = append(problems, fmt.Sprintf("pairs: reserve of %s: %v", symbol, err))
				}
			}
		}
	case flashloan.KindTermDebt:
		if len(l.Series) == 0 {
			problems = append(problems, "term debt lender needs at least one series")
		}
		for _, s := range l.Series {
			checkSymbol("series", s.Name)
			if _, err := s.MaturityTime(); err != nil {
				problems = append(problems, fmt.Sprintf("series %s: %v", s.Name, err))
			}
		}
	}

	return problems
}

// MaturityTime parses the series maturity.
func (s SeriesConfig) MaturityTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Maturity)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid maturity %q: %w", s.Maturity, err)
	}
	return t, nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return amount, nil
}

// AssetAddress is the ledger address of the asset with the given symbol.
func AssetAddress(symbol string) common.Address {
	return ledger.AddressOf("asset:" + symbol)
}

// LenderAddress is the account a configured lender acts from.
func LenderAddress(name string) common.Address {
	return ledger.AddressOf("lender:" + name)
}

// FacilityAddress is the account of the facility behind a configured lender.
func FacilityAddress(name string) common.Address {
	return ledger.AddressOf("facility:" + name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
