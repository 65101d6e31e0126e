// Package errs defines the sentinel error taxonomy shared by the bus
// client, the HVAC service, and the HTTP adapter, following the
// teacher's wrap-and-classify-with-errors.Is pattern.
package errs

import "errors"

var (
	ErrTransport        = errors.New("transport")
	ErrProtocol         = errors.New("protocol")
	ErrTimeout          = errors.New("timeout")
	ErrValidation       = errors.New("validation")
	ErrResourceExhausted = errors.New("resource_exhausted")
	ErrNotFound         = errors.New("not_found")
	ErrInternal         = errors.New("internal")
)

// Is reports whether err wraps target, a thin re-export so call sites
// don't need a second import just to classify an error.
func Is(err, target error) bool { return errors.Is(err, target) }
