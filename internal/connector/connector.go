// Package connector defines the portal connector contract, its error
// taxonomy and the portal-type registry the sync orchestrator resolves against.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/portal-keeper/internal/model"
)

// Connector authenticates against one portal type and imports its records.
// Section-level failures are reported in the summary, never returned.
type Connector interface {
	Sync(ctx context.Context, cred model.DecryptedCredential) (model.SyncResult, error)
}

// Func adapts a plain function to Connector.
type Func func(ctx context.Context, cred model.DecryptedCredential) (model.SyncResult, error)

// Sync implements Connector.
func (f Func) Sync(ctx context.Context, cred model.DecryptedCredential) (model.SyncResult, error) {
	return f(ctx, cred)
}

// Fatal connector errors. Each aborts the whole attempt.
var (
	ErrLoginFormNotDetected = errors.New("login form not detected")
	ErrLoginRejected        = errors.New("portal login rejected")
	ErrTimeout              = errors.New("portal wait timed out")
	ErrSessionDestroyed     = errors.New("automation session destroyed")
	ErrConfiguration        = errors.New("connector misconfigured")
	ErrIllegalTransition    = errors.New("illegal state transition")
)

// IsPortalFailure reports whether err came from the remote portal side of an attempt.
func IsPortalFailure(err error) bool {
	return errors.Is(err, ErrLoginFormNotDetected) ||
		errors.Is(err, ErrLoginRejected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrSessionDestroyed)
}

// SectionError is one section's failure. It is recorded in the summary, not returned.
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string { return fmt.Sprintf("%s: %v", e.Section, e.Err) }

func (e *SectionError) Unwrap() error { return e.Err }
