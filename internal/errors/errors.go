// SPDX-License-Identifier: AGPL-3.0-only
package errors

import (
	stderrors "errors"
	"fmt"
)

// Request-level failures reported by the control surfaces. Each constructor
// below wraps one of these so transports can pick a status with errors.Is.
var (
	ErrNotFound     = stderrors.New("not found")
	ErrInvalidInput = stderrors.New("invalid input")
	ErrInternal     = stderrors.New("internal error")
)

// NotFound reports a missing session, journal or other relay resource.
func NotFound(resource, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, resource, id)
}

// InvalidInput reports a request the relay refuses to act on.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// Internal wraps err as a server-side failure, keeping the chain intact.
func Internal(err error) error {
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
