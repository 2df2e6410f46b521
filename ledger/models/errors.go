package models

import "fmt"

var (
	ErrNotFound  = fmt.Errorf("not found")
	ErrForbidden = fmt.Errorf("forbidden")
	ErrConflict  = fmt.Errorf("conflict")

	// Redemption/transaction validation errors. Each names the precondition
	// that failed so callers can surface it verbatim.
	ErrInsufficientPoints = fmt.Errorf("insufficient points")
	ErrBelowMinimum       = fmt.Errorf("minimum points requirement not met")
	ErrNoOption           = fmt.Errorf("no redemption option selected")
	ErrInvalidAmount      = fmt.Errorf("points amount must be positive")
)
