package core

import (
	"fmt"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

// RecordValidationError represents an error that occurs during managed record validation
type RecordValidationError struct {
	Message string
}

// Error implements the error interface
func (e *RecordValidationError) Error() string {
	return e.Message
}

// NewRecordValidationError creates a new RecordValidationError
func NewRecordValidationError(message string) *RecordValidationError {
	return &RecordValidationError{Message: message}
}

// NoAddressError is returned when a record value is needed for a family whose
// public address has not been discovered yet.
type NoAddressError struct {
	Family domain.Family
}

func (e *NoAddressError) Error() string {
	return fmt.Sprintf("no public %s address known yet", e.Family)
}

func NewNoAddressError(family domain.Family) *NoAddressError {
	return &NoAddressError{Family: family}
}
