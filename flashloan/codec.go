package flashloan

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Ticket is the loan record an adapter packs into the opaque data a backing
// facility hands back to the adapter's own callback.
type Ticket struct {
	Lender    common.Address
	Facility  common.Address
	Initiator common.Address
	Receiver  common.Address
	Asset     common.Address
	Amount    *big.Int
	Fee       *big.Int
	Data      []byte
}

// ABI types
var (
	abiUint256, _ = abi.NewType("uint256", "", nil)
	abiAddress, _ = abi.NewType("address", "", nil)
	abiBytes, _   = abi.NewType("bytes", "", nil)
)

var ticketArguments = abi.Arguments{
	{Name: "lender", Type: abiAddress},
	{Name: "facility", Type: abiAddress},
	{Name: "initiator", Type: abiAddress},
	{Name: "receiver", Type: abiAddress},
	{Name: "asset", Type: abiAddress},
	{Name: "amount", Type: abiUint256},
	{Name: "fee", Type: abiUint256},
	{Name: "data", Type: abiBytes},
}

// NewTicket records loan as issued by lender through facility.
func NewTicket(lender, facility common.Address, loan *Loan) Ticket {
	return Ticket{
		Lender:    lender,
		Facility:  facility,
		Initiator: loan.Initiator,
		Receiver:  loan.Receiver.Address(),
		Asset:     loan.Asset,
		Amount:    loan.Amount,
		Fee:       loan.Fee,
		Data:      loan.Data,
	}
}

// Encode packs the ticket with the standard ABI encoding.
func (t Ticket) Encode() ([]byte, error) {
	data := t.Data
	if data == nil {
		data = []byte{}
	}
	packed, err := ticketArguments.Pack(t.Lender, t.Facility, t.Initiator, t.Receiver, t.Asset, t.Amount, t.Fee, data)
	if err != nil {
		return nil, fmt.Errorf("failed to pack ticket: %w", err)
	}
	return packed, nil
}

// DecodeTicket unpacks data produced by Ticket.Encode.
func DecodeTicket(data []byte) (Ticket, error) {
	values, err := ticketArguments.Unpack(data)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %w", ErrMalformedTicket, err)
	}
	if len(values) != len(ticketArguments) {
		return Ticket{}, fmt.Errorf("%w: %d fields", ErrMalformedTicket, len(values))
	}

	var t Ticket
	addrs := []*common.Address{&t.Lender, &t.Facility, &t.Initiator, &t.Receiver, &t.Asset}
	for i, dst := range addrs {
		addr, ok := values[i].(common.Address)
		if !ok {
			return Ticket{}, fmt.Errorf("%w: field %s", ErrMalformedTicket, ticketArguments[i].Name)
		}
		*dst = addr
	}
	if t.Amount, err = unpackUint(values[5]); err != nil {
		return Ticket{}, err
	}
	if t.Fee, err = unpackUint(values[6]); err != nil {
		return Ticket{}, err
	}
	payload, ok := values[7].([]byte)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: field data", ErrMalformedTicket)
	}
	t.Data = payload
	return t, nil
}

func unpackUint(v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: expected uint256, got %T", ErrMalformedTicket, v)
	}
	return n, nil
}

type receiverKey struct {
	addr common.Address
}

// WithReceiver places the borrower on the call context so that an adapter's
// facility callback can reach it again.
func WithReceiver(ctx context.Context, receiver Borrower) context.Context {
	return context.WithValue(ctx, receiverKey{receiver.Address()}, receiver)
}

// ReceiverFrom returns the borrower stored for addr by WithReceiver.
func ReceiverFrom(ctx context.Context, addr common.Address) (Borrower, bool) {
	receiver, ok := ctx.Value(receiverKey{addr}).(Borrower)
	return receiver, ok
}

// Redeem decodes a ticket delivered to lender's facility callback and
// rebuilds the loan. It rejects tickets issued by another lender and tickets
// whose receiver is not on the call context.
func Redeem(ctx context.Context, lender common.Address, data []byte) (*Loan, Ticket, error) {
	t, err := DecodeTicket(data)
	if err != nil {
		return nil, Ticket{}, err
	}
	if t.Lender != lender {
		return nil, Ticket{}, fmt.Errorf("%w: ticket issued by %s", ErrUntrustedCallback, t.Lender.Hex())
	}
	receiver, ok := ReceiverFrom(ctx, t.Receiver)
	if !ok {
		return nil, Ticket{}, fmt.Errorf("%w: %s", ErrUnknownReceiver, t.Receiver.Hex())
	}
	return &Loan{
		Initiator: t.Initiator,
		Receiver:  receiver,
		Asset:     t.Asset,
		Amount:    t.Amount,
		Fee:       t.Fee,
		Data:      t.Data,
	}, t, nil
}
