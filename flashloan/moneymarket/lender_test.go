package moneymarket

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/borrower"
	"github.com/michaelpento.lv/flashlender/facility/lendingpool"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

var (
	tst1 = ledger.AddressOf("asset:TST1")
	tst2 = ledger.AddressOf("asset:TST2")
	tst3 = ledger.AddressOf("asset:TST3")
)

type fixture struct {
	ledger   *ledger.Memory
	pool     *lendingpool.Pool
	lender   *Lender
	borrower *borrower.FlashBorrower
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := ledger.NewMemory(logger)
	pool := lendingpool.New(lendingpool.MainnetLendingPool, mem, logger)

	for asset, liquidity := range map[common.Address]int64{tst1: 10000, tst2: 9999} {
		r, err := pool.InitReserve(asset)
		require.NoError(t, err)
		require.NoError(t, mem.Mint(asset, r.AToken, big.NewInt(liquidity)))
	}

	lender, err := NewLender(mem, pool, Config{Name: "aave", Address: ledger.AddressOf("aave-lender")}, logger)
	require.NoError(t, err)
	return &fixture{
		ledger:   mem,
		pool:     pool,
		lender:   lender,
		borrower: borrower.New(ledger.AddressOf("borrower"), mem, logger),
	}
}

func TestNewLenderAssets(t *testing.T) {
	f := setup(t)
	assert.ElementsMatch(t, []common.Address{tst1, tst2}, f.lender.Assets())

	only, err := NewLender(f.ledger, f.pool, Config{Address: ledger.AddressOf("x"), Assets: []common.Address{tst2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tst2}, only.Assets())
	assert.Equal(t, "0", only.MaxFlashLoan(tst1).String())

	_, err = NewLender(f.ledger, f.pool, Config{Address: ledger.AddressOf("x"), Assets: []common.Address{tst3}}, nil)
	require.ErrorIs(t, err, lendingpool.ErrReserveNotFound)
}

func TestMoneyMarketQueries(t *testing.T) {
	f := setup(t)

	assert.Equal(t, "10000", f.lender.MaxFlashLoan(tst1).String())
	assert.Equal(t, "9999", f.lender.MaxFlashLoan(tst2).String())
	assert.Equal(t, "0", f.lender.MaxFlashLoan(tst3).String())

	fee, err := f.lender.FlashFee(tst1, big.NewInt(10000))
	require.NoError(t, err)
	assert.Equal(t, "9", fee.String())

	_, err = f.lender.FlashFee(tst3, big.NewInt(10000))
	require.ErrorIs(t, err, flashloan.ErrUnsupportedAsset)
}

func TestMoneyMarketFlashLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("Simple", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.borrower.FlashBorrow(ctx, f.lender, tst1, big.NewInt(1)))
		assert.Equal(t, "1", f.borrower.FlashBalance.String())
		assert.Equal(t, "1", f.borrower.FlashAmount.String())
		assert.Equal(t, "0", f.borrower.FlashFee.String())
		assert.Equal(t, f.borrower.Address(), f.borrower.FlashInitiator)
	})

	t.Run("PaysFees", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.ledger.Mint(tst1, f.borrower.Address(), big.NewInt(9)))

		require.NoError(t, f.borrower.FlashBorrow(ctx, f.lender, tst1, big.NewInt(10000)))
		assert.Equal(t, "10009", f.borrower.FlashBalance.String())
		assert.Equal(t, "9", f.borrower.FlashFee.String())
		assert.Equal(t, "0", f.ledger.BalanceOf(tst1, f.borrower.Address()).String())
		assert.Equal(t, "10009", f.lender.MaxFlashLoan(tst1).String())
		assert.Equal(t, "0", f.ledger.BalanceOf(tst1, f.lender.Address()).String())
	})

	t.Run("FromAnotherAccount", func(t *testing.T) {
		f := setup(t)
		user1 := ledger.AddressOf("user1")
		require.NoError(t, f.ledger.Approve(tst1, f.borrower.Address(), f.lender.Address(), big.NewInt(1)))

		err := f.lender.FlashLoan(ctx, user1, f.borrower, tst1, big.NewInt(1), borrower.EncodeAction(borrower.ActionNormal))
		require.NoError(t, err)
		assert.Equal(t, user1, f.borrower.FlashInitiator)
	})

	t.Run("Steal", func(t *testing.T) {
		f := setup(t)
		err := f.borrower.FlashBorrowAndSteal(ctx, f.lender, tst1, big.NewInt(1))
		require.ErrorIs(t, err, flashloan.ErrUnpaidLoan)
		assert.Equal(t, "10000", f.lender.MaxFlashLoan(tst1).String())
		assert.Equal(t, "0", f.ledger.BalanceOf(tst1, f.borrower.Stash()).String())
	})

	t.Run("Reenter", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.borrower.FlashBorrowAndReenter(ctx, f.lender, tst1, big.NewInt(1)))
		assert.Equal(t, "3", f.borrower.FlashBalance.String())
		assert.Equal(t, "3", f.borrower.Received.String())
		assert.Equal(t, "10000", f.lender.MaxFlashLoan(tst1).String())
	})

	t.Run("ExceedsLiquidity", func(t *testing.T) {
		f := setup(t)
		err := f.borrower.FlashBorrow(ctx, f.lender, tst2, big.NewInt(10000))
		require.ErrorIs(t, err, flashloan.ErrInsufficientSupply)
	})
}

func TestExecuteOperationRejectsForeignCalls(t *testing.T) {
	f := setup(t)
	ctx := flashloan.WithReceiver(context.Background(), f.borrower)
	one := []*big.Int{big.NewInt(1)}

	ok, err := f.lender.ExecuteOperation(ctx, []common.Address{tst1}, one, one, ledger.AddressOf("attacker"), nil)
	require.ErrorIs(t, err, flashloan.ErrUntrustedCallback)
	assert.False(t, ok)

	ticket, err := flashloan.Ticket{
		Lender:   f.lender.Address(),
		Facility: f.pool.Address(),
		Receiver: f.borrower.Address(),
		Asset:    tst1,
		Amount:   big.NewInt(1),
		Fee:      big.NewInt(0),
	}.Encode()
	require.NoError(t, err)

	_, err = f.lender.ExecuteOperation(ctx, []common.Address{tst2}, one, one, f.lender.Address(), ticket)
	require.ErrorIs(t, err, flashloan.ErrMalformedTicket)

	_, err = f.lender.ExecuteOperation(ctx, []common.Address{tst1}, one, one, f.lender.Address(), ticket)
	require.ErrorIs(t, err, flashloan.ErrSettlement)

	_, err = f.lender.ExecuteOperation(context.Background(), []common.Address{tst1}, one, []*big.Int{big.NewInt(0)}, f.lender.Address(), ticket)
	require.ErrorIs(t, err, flashloan.ErrUnknownReceiver)
}
