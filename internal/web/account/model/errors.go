package model

import "github.com/Laisky/errors/v2"

var (
	// ErrInsufficientFunds balance lower than the requested deduction
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound no account matches the given id
	ErrAccountNotFound = errors.New("account not found")
)
