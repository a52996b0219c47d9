// Package errkind holds the sentinel error values shared across the update
// client components. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can still recover the kind with errors.Is/errors.As.
package errkind

import "errors"

// Transport errors.
var (
	ErrConnect             = errors.New("connect error")
	ErrTLS                 = errors.New("tls error")
	ErrProxy               = errors.New("proxy error")
	ErrTimedOut            = errors.New("timed out")
	ErrCancelled           = errors.New("cancelled")
	ErrInvalidURL          = errors.New("invalid url")
	ErrBodyMissing         = errors.New("body missing")
	ErrBodyIgnored         = errors.New("body ignored")
	ErrUnsupportedBodyType = errors.New("unsupported body type")
	ErrUnsupportedMethod   = errors.New("unsupported method")
)

// Server errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrDeploymentAborted  = errors.New("deployment aborted")
	ErrServerError        = errors.New("server error")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Store errors.
var (
	ErrKeyNotFound                 = errors.New("key not found")
	ErrIO                          = errors.New("io error")
	ErrStateDataStoreCountExceeded = errors.New("state data store count exceeded")
)

// Module errors.
var (
	ErrNonZeroExitStatus = errors.New("non-zero exit status")
	ErrProtocolError     = errors.New("protocol error")
	ErrBrokenPipe        = errors.New("broken pipe")
)

// Artifact errors.
var (
	ErrParseError         = errors.New("parse error")
	ErrSignatureError     = errors.New("signature error")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrDependsMismatch    = errors.New("depends mismatch")
	ErrEOF                = errors.New("eof")
)

// ErrProgrammingError marks an assertion-like invariant violation; it is
// never expected to be handled, only logged and surfaced as a bug report.
var ErrProgrammingError = errors.New("programming error")
