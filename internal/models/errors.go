package models

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvariant           = errors.New("invariant violation")
	ErrSafetyLimit         = errors.New("safety limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateLimited         = errors.New("rate limited")
	ErrAlreadyPending      = errors.New("action already pending")
	ErrGateClosed          = errors.New("trading gate closed")
)
