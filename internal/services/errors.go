package services

import "errors"

// Domain error kinds. Handlers map these to HTTP status codes; nothing below
// the handler layer knows about transport.
var (
	ErrEmailAlreadyRegistered     = errors.New("email already registered")
	ErrAccountHolderAlreadyExists = errors.New("account holder already exists")
	ErrAccountHolderNotFound      = errors.New("account holder not found")
	ErrAccountNotFound            = errors.New("account not found")
	ErrAccountNotAccessible       = errors.New("account not accessible")
	ErrCurrencyMismatch           = errors.New("currency mismatch")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrSameAccountTransfer        = errors.New("cannot transfer to same account")
	ErrInvalidAmount              = errors.New("invalid amount")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	// Callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers not-found, revoked and expired refresh tokens.
	ErrInvalidToken = errors.New("invalid token")

	ErrPasswordTooLong            = errors.New("password exceeds 72 bytes")
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")
)
