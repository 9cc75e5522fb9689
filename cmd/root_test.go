package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorld = `
assets: [DAI, WETH]
borrower:
  balances:
    DAI: "1000"
lenders:
  - name: cheap
    kind: vault
    fee_bps: 5
    assets: [DAI]
    reserves:
      DAI: "10000"
  - name: aave
    kind: moneymarket
    reserves:
      DAI: "50000"
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testWorld), 0o600))

	// Flag values persist across executions of the shared command tree.
	lenderName, mode = "manager", "repay"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestLendersCommand(t *testing.T) {
	out := run(t, "lenders")
	assert.Contains(t, out, "cheap")
	assert.Contains(t, out, "vault")
	assert.Contains(t, out, "moneymarket")
}

func TestQuoteCommand(t *testing.T) {
	out := run(t, "quote", "DAI", "20000")
	assert.Contains(t, out, "insufficient_supply")
	assert.Contains(t, out, "best: aave (fee 18)")
}

func TestSimulateCommand(t *testing.T) {
	out := run(t, "simulate", "DAI", "1000", "--lender", "cheap")
	assert.Contains(t, out, "repay 1000 DAI from cheap: settled, fee 1")
	assert.Contains(t, out, "10001")

	out = run(t, "simulate", "DAI", "1000", "--lender", "cheap", "--mode", "steal")
	assert.Contains(t, out, "reverted")
}

func TestParseAmountRejectsZero(t *testing.T) {
	_, err := parseAmount("0")
	require.Error(t, err)
	amount, err := parseAmount("42")
	require.NoError(t, err)
	assert.Equal(t, "42", amount.String())
}
