package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrLeadExists is returned when another lead already owns the phone key
	ErrLeadExists = errors.New("lead already exists for phone")

	ErrMissingPhone = errors.New("phone is required")
)
