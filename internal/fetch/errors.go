package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies attestation fetch failures.
type ErrorKind string

const (
	KindEndpointUnreachable ErrorKind = "endpoint_unreachable"
	KindTLSFailure          ErrorKind = "tls_failure"
	KindUnexpectedStatus    ErrorKind = "unexpected_status"
)

// Error is a typed fetch failure carrying the VM identity and endpoint so
// that partial-failure handling upstream can report which side broke.
type Error struct {
	Kind     ErrorKind
	VM       string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch attestation for %s from %s (%s): %v", e.VM, e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the fetch error kind, or "" for non-fetch errors.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// ErrNoQuoteInResponse is returned when the endpoint answered but its body
// contained no recognizable attestation quote.
var ErrNoQuoteInResponse = errors.New("no attestation quote found in endpoint response")

// ErrNoEndpoint is returned when every resolution strategy came up empty.
var ErrNoEndpoint = errors.New("no attestation endpoint could be resolved")
