/*
errors.go - Centralized error types for the collection engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The recompute runner decides what to do with a failure by its kind,
  so every error raised by the pipeline belongs to exactly one category.

ERROR CATEGORIES:
  1. Configuration errors - Missing/invalid modality, parameters or arrears.
     Fatal to that contract only; fixed by an operator, not by retrying.
  2. Data integrity errors - Movements predating the schedule origin,
     negative amounts. Fatal to that contract only.
  3. Transient errors - Repository I/O failures. The next scheduled run
     retries; nothing is retried in-process.

USAGE:
  if errors.Is(err, generic.ErrConfiguration) {
      // log and skip, never persist a guessed status
  }

  kind := generic.ErrorKind(err) // "configuration", "data_integrity", ...

SEE ALSO:
  - loan/recompute.go: Catches and reports these per contract
  - store/sqlite/sqlite.go: Wraps I/O failures as TransientError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration marks missing or invalid company/contract configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity marks recorded data that contradicts the schedule.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrTransient marks repository I/O failures.
	ErrTransient = errors.New("transient error")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed admin requests.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	CompanyID  CompanyID
	ContractID ContractID
	Field      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.ContractID != "" {
		return fmt.Sprintf("configuration error: contract %s: %s: %s", e.ContractID, e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: company %s: %s: %s", e.CompanyID, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DataIntegrityError reports a movement that cannot be reconciled.
type DataIntegrityError struct {
	ContractID ContractID
	MovementID string
	Reason     string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity error: contract %s: movement %s: %s", e.ContractID, e.MovementID, e.Reason)
}

func (e *DataIntegrityError) Unwrap() error { return ErrDataIntegrity }

// TransientError wraps an I/O failure with the operation that failed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// Transient wraps err as a TransientError. nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Error kinds reported in recompute summaries.
const (
	KindConfiguration = "configuration"
	KindDataIntegrity = "data_integrity"
	KindTransient     = "transient"
	KindNotFound      = "not_found"
	KindUnknown       = "unknown"
)

// ErrorKind classifies err into one of the Kind* constants.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if the next scheduled run might succeed unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
