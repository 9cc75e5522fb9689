package flashloan

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedAsset   = errors.New("flash lender: unsupported currency")
	ErrInsufficientSupply = errors.New("flash lender: amount exceeds max flash loan")
	ErrCallbackRejected   = errors.New("flash lender: callback failed")
	ErrUnpaidLoan         = errors.New("flash lender: unpaid loan")
	ErrSettlement         = errors.New("flash lender: facility settlement failed")
	ErrBorrowerFailed     = errors.New("flash lender: borrower aborted")
	ErrInvalidAmount      = errors.New("flash lender: amount must be positive")
	ErrUntrustedCallback  = errors.New("flash lender: untrusted callback")
	ErrUnknownReceiver    = errors.New("flash lender: receiver not on call stack")
	ErrMalformedTicket    = errors.New("flash lender: malformed callback data")
)

var causes = []struct {
	err   error
	label string
}{
	{ErrUnsupportedAsset, "unsupported_asset"},
	{ErrInsufficientSupply, "insufficient_supply"},
	{ErrCallbackRejected, "callback_rejected"},
	{ErrUnpaidLoan, "unpaid_loan"},
	{ErrSettlement, "settlement"},
	{ErrBorrowerFailed, "borrower"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrUntrustedCallback, "untrusted_callback"},
	{ErrUnknownReceiver, "unknown_receiver"},
	{ErrMalformedTicket, "malformed_ticket"},
}

// Cause returns a short label for the first flash loan error err wraps.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range causes {
		if errors.Is(err, c.err) {
			return c.label
		}
	}
	return "other"
}

// Settlement tags an error returned by a backing facility. Errors that
// already carry a flash loan cause, such as a borrower failure surfacing
// through a facility callback, are returned unchanged.
func Settlement(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range causes {
		if errors.Is(err, c.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrSettlement, err)
}
