// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates missing or malformed input (configuration error).
	ErrValidation = errors.New("validation")

	// ErrNoFieldsProvided indicates an update patch with nothing to change.
	ErrNoFieldsProvided = errors.New("no fields to update")

	// ErrRateLimited indicates temporary unlock lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)

// Vault boundary.
var (
	// ErrVaultLocked indicates an operation needing the working key ran without it.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrInvalidPassword indicates the master password did not verify.
	ErrInvalidPassword = errors.New("invalid master password")

	// ErrNotInitialized indicates no master record exists yet.
	ErrNotInitialized = errors.New("vault not initialized")

	// ErrAlreadyInitialized indicates setup ran against an existing master record.
	ErrAlreadyInitialized = errors.New("vault already initialized")

	// ErrWeakPassword indicates a master password below the minimum length.
	ErrWeakPassword = errors.New("master password too short")
)

// Crypto boundary. Both fail closed.
var (
	// ErrMalformedCiphertext indicates an encrypted field that is not nonce:tag:ciphertext.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrCiphertextAuth indicates the AEAD tag check failed (tampered or wrong key).
	ErrCiphertextAuth = errors.New("ciphertext authentication failed")
)

// Sync configuration.
var (
	// ErrUnknownPortalType indicates no connector is registered for a portal type.
	ErrUnknownPortalType = errors.New("unknown portal type")
)

// ConfigurationError marks a failure caused by bad input or setup rather than
// by the remote portal. Err carries the underlying sentinel.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Msg == "" {
		return "configuration: " + e.Err.Error()
	}
	return "configuration: " + e.Msg + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf wraps err in a ConfigurationError.
func Configf(err error, msg string) error { return &ConfigurationError{Msg: msg, Err: err} }
