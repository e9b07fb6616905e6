package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool      { return errors.Is(err, ErrConflict) }
func IsUnauthorized(err error) bool  { return errors.Is(err, ErrUnauthorized) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
