package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. The orchestrator's absorbing
// paths (integrity → idempotent hit, storage → degraded ABSTAIN) key off
// these with errors.Is; everything else propagates.
var (
	// ErrNotFound reports an unknown decision id.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity reports a store unique-constraint violation.
	ErrIntegrity = errors.New("integrity violation")

	// ErrStorageUnavailable reports any other store I/O or engine failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports a request that failed schema validation.
// It surfaces to HTTP callers as 422 and is never persisted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request validation failed: %s", e.Message)
}

// InvalidPolicyError reports a policy that failed schema validation or the
// reason-code cross-check at load time. Fatal to the call.
type InvalidPolicyError struct {
	PolicyID string
	Message  string
}

func (e *InvalidPolicyError) Error() string {
	if e.PolicyID == "" {
		return fmt.Sprintf("invalid policy: %s", e.Message)
	}
	return fmt.Sprintf("invalid policy %q: %s", e.PolicyID, e.Message)
}
