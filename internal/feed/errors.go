package feed

import (
	"errors"
	"fmt"
)

// ErrNoFeeds is returned by Poll when no feed URLs are configured. This is a
// setup problem, not a transient one, so it is surfaced before any network
// call is made.
var ErrNoFeeds = errors.New("no vehicle feed URLs configured")

// TransportError is a per-feed fetch failure: the endpoint was unreachable,
// timed out, or answered with a non-success status code. It is recorded in
// that feed's diagnostic and retried on the next tick.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a per-feed decode failure: the endpoint answered, but the
// payload is not a valid feed message. Kept distinct from TransportError so
// operators can tell "unreachable" from "reachable but garbled".
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
