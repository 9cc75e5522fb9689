package termdebt

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/borrower"
	"github.com/michaelpento.lv/flashlender/facility/debttoken"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
	"github.com/michaelpento.lv/flashlender/utils/math"
)

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ledger   *ledger.Memory
	live     *debttoken.Token
	matured  *debttoken.Token
	lender   *Lender
	borrower *borrower.FlashBorrower
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := ledger.NewMemory(logger)
	clock := debttoken.WithClock(func() time.Time { return now })

	live := debttoken.New(ledger.AddressOf("asset:fyDAI-2026-06"), "fyDAI-2026-06", now.Add(15778476*time.Second), mem, logger, clock)
	matured := debttoken.New(ledger.AddressOf("asset:fyDAI-2025-12"), "fyDAI-2025-12", now.Add(-time.Hour), mem, logger, clock)

	lender, err := NewLender(mem, []Series{live, matured}, Config{Name: "yield", Address: ledger.AddressOf("yield-lender")}, logger)
	require.NoError(t, err)
	return &fixture{
		ledger:   mem,
		live:     live,
		matured:  matured,
		lender:   lender,
		borrower: borrower.New(ledger.AddressOf("borrower"), mem, logger),
	}
}

func TestNewLenderRejectsDuplicates(t *testing.T) {
	f := setup(t)
	_, err := NewLender(f.ledger, []Series{f.live, f.live}, Config{Address: ledger.AddressOf("x")}, nil)
	require.Error(t, err)
	_, err = NewLender(f.ledger, nil, Config{Address: ledger.AddressOf("x")}, nil)
	require.Error(t, err)
}

func TestTermDebtQueries(t *testing.T) {
	f := setup(t)

	assert.Equal(t, math.MaxUint112.String(), f.lender.MaxFlashLoan(f.live.Address()).String())
	assert.Equal(t, "0", f.lender.MaxFlashLoan(f.matured.Address()).String())
	assert.Equal(t, "0", f.lender.MaxFlashLoan(ledger.AddressOf("asset:DAI")).String())
	assert.Len(t, f.lender.Assets(), 2)

	fee, err := f.lender.FlashFee(f.live.Address(), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "0", fee.String())

	_, err = f.lender.FlashFee(ledger.AddressOf("asset:DAI"), big.NewInt(1000))
	require.ErrorIs(t, err, flashloan.ErrUnsupportedAsset)
}

func TestTermDebtFlashLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("Simple", func(t *testing.T) {
		f := setup(t)
		asset := f.live.Address()
		before := f.ledger.BalanceOf(asset, f.borrower.Address())

		require.NoError(t, f.borrower.FlashBorrow(ctx, f.lender, asset, big.NewInt(1000)))

		assert.Equal(t, f.borrower.Address(), f.borrower.FlashInitiator)
		assert.Equal(t, "1000", f.borrower.FlashAmount.String())
		assert.Equal(t, new(big.Int).Add(before, big.NewInt(1000)).String(), f.borrower.FlashBalance.String())
		assert.Equal(t, "0", f.borrower.FlashFee.String())
		assert.Equal(t, before.String(), f.ledger.BalanceOf(asset, f.borrower.Address()).String())
		assert.Equal(t, "0", f.live.TotalSupply().String())
	})

	t.Run("Matured", func(t *testing.T) {
		f := setup(t)
		err := f.borrower.FlashBorrow(ctx, f.lender, f.matured.Address(), big.NewInt(1))
		require.ErrorIs(t, err, flashloan.ErrInsufficientSupply)
		assert.Equal(t, 0, f.borrower.Calls)
	})

	t.Run("Steal", func(t *testing.T) {
		f := setup(t)
		err := f.borrower.FlashBorrowAndSteal(ctx, f.lender, f.live.Address(), big.NewInt(1000))
		require.ErrorIs(t, err, flashloan.ErrUnpaidLoan)
		assert.Equal(t, "0", f.ledger.BalanceOf(f.live.Address(), f.borrower.Stash()).String())
		assert.Equal(t, "0", f.live.TotalSupply().String())
	})

	t.Run("Reenter", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.borrower.FlashBorrowAndReenter(ctx, f.lender, f.live.Address(), big.NewInt(1)))
		assert.Equal(t, "3", f.borrower.FlashBalance.String())
		assert.Equal(t, "3", f.borrower.Received.String())
		assert.Equal(t, "0", f.live.TotalSupply().String())
	})

	t.Run("Reject", func(t *testing.T) {
		f := setup(t)
		err := f.borrower.FlashBorrowAndReject(ctx, f.lender, f.live.Address(), big.NewInt(1))
		require.ErrorIs(t, err, flashloan.ErrCallbackRejected)
	})
}

func TestExecuteOnFlashMintRejectsForeignTickets(t *testing.T) {
	f := setup(t)
	ctx := flashloan.WithReceiver(context.Background(), f.borrower)
	ticket, err := flashloan.Ticket{
		Lender:   f.lender.Address(),
		Facility: f.live.Address(),
		Receiver: f.borrower.Address(),
		Asset:    f.live.Address(),
		Amount:   big.NewInt(10),
		Fee:      big.NewInt(0),
	}.Encode()
	require.NoError(t, err)

	err = f.lender.ExecuteOnFlashMint(ctx, ledger.AddressOf("asset:other"), big.NewInt(10), ticket)
	require.ErrorIs(t, err, flashloan.ErrUntrustedCallback)

	err = f.lender.ExecuteOnFlashMint(ctx, f.live.Address(), big.NewInt(11), ticket)
	require.ErrorIs(t, err, flashloan.ErrMalformedTicket)
}
