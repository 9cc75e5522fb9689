package flashloan

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashlender/ledger"
)

func TestTicketEncoding(t *testing.T) {
	ticket := Ticket{
		Lender:    ledger.AddressOf("lender"),
		Facility:  ledger.AddressOf("pool"),
		Initiator: ledger.AddressOf("initiator"),
		Receiver:  ledger.AddressOf("receiver"),
		Asset:     ledger.AddressOf("asset:DAI"),
		Amount:    big.NewInt(1000),
		Fee:       big.NewInt(9),
		Data:      []byte("payload"),
	}

	packed, err := ticket.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTicket(packed)
	require.NoError(t, err)
	assert.Equal(t, ticket.Lender, decoded.Lender)
	assert.Equal(t, ticket.Facility, decoded.Facility)
	assert.Equal(t, ticket.Initiator, decoded.Initiator)
	assert.Equal(t, ticket.Receiver, decoded.Receiver)
	assert.Equal(t, ticket.Asset, decoded.Asset)
	assert.Equal(t, "1000", decoded.Amount.String())
	assert.Equal(t, "9", decoded.Fee.String())
	assert.Equal(t, []byte("payload"), decoded.Data)

	_, err = DecodeTicket(packed[:64])
	require.ErrorIs(t, err, ErrMalformedTicket)
}

func TestRedeem(t *testing.T) {
	lender := ledger.AddressOf("lender")
	receiver := &stubBorrower{address: ledger.AddressOf("receiver")}
	loan := &Loan{
		Initiator: ledger.AddressOf("initiator"),
		Receiver:  receiver,
		Asset:     ledger.AddressOf("asset:DAI"),
		Amount:    big.NewInt(50),
		Fee:       big.NewInt(1),
	}
	packed, err := NewTicket(lender, ledger.AddressOf("pool"), loan).Encode()
	require.NoError(t, err)

	t.Run("ReceiverOnContext", func(t *testing.T) {
		ctx := WithReceiver(context.Background(), receiver)
		got, ticket, err := Redeem(ctx, lender, packed)
		require.NoError(t, err)
		assert.Same(t, receiver, got.Receiver)
		assert.Equal(t, loan.Initiator, got.Initiator)
		assert.Equal(t, "51", got.Repayment().String())
		assert.Equal(t, ledger.AddressOf("pool"), ticket.Facility)
		assert.Empty(t, got.Data)
	})

	t.Run("OtherLender", func(t *testing.T) {
		ctx := WithReceiver(context.Background(), receiver)
		_, _, err := Redeem(ctx, ledger.AddressOf("other"), packed)
		require.ErrorIs(t, err, ErrUntrustedCallback)
	})

	t.Run("ReceiverMissing", func(t *testing.T) {
		ctx := WithReceiver(context.Background(), &stubBorrower{address: common.HexToAddress("0x01")})
		_, _, err := Redeem(ctx, lender, packed)
		require.ErrorIs(t, err, ErrUnknownReceiver)
	})
}
