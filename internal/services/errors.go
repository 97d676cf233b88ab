package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrExternalAuth = errors.New("airtable authorization failed")
)

// ExternalAPIError is returned for any non-success response from the Airtable
// data API. Status carries the upstream status code where one was received,
// zero on transport failure.
type ExternalAPIError struct {
	Op     string
	Status int
	Err    error
}

func (e *ExternalAPIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("airtable %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("airtable %s failed: %v", e.Op, e.Err)
}

func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}
