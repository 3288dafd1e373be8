package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateEvent       = errors.New("event already received")
	ErrDuplicateGroup       = errors.New("transaction group already posted")
	ErrUnbalancedGroup      = errors.New("transaction group does not sum to zero")
	ErrCurrencyMismatch     = errors.New("currency mismatch within group")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrAlreadyRefunded      = errors.New("group already refunded")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrSelfTransfer         = errors.New("cannot transfer to same wallet")
)
