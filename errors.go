package shiftlog

import "fmt"

// The error kinds named in spec §7, as concrete types so callers can
// errors.As-switch on them instead of matching on message text — the same
// convention as the teacher's ErrLLM/ErrHTTP pair.

// ErrConfig signals a missing or malformed configuration value. It is
// fatal at startup; Command names the corrective CLI invocation.
type ErrConfig struct {
	Field   string
	Reason  string
	Command string
}

func (e *ErrConfig) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("config: %s: %s (run %q)", e.Field, e.Reason, e.Command)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ErrCredentials signals that a credential was rejected by the remote
// service (as opposed to ErrConfig, which signals a credential is simply
// absent or malformed).
type ErrCredentials struct {
	Service string
	Reason  string
}

func (e *ErrCredentials) Error() string {
	return fmt.Sprintf("credentials: %s: %s", e.Service, e.Reason)
}

// RPCStatus classifies an RPCError for the rate-limited client's retry
// policy (§4.A).
type RPCStatus int

const (
	RPCStatusFatal RPCStatus = iota
	RPCStatusTransient
	RPCStatusRateLimited
)

// ErrRPC wraps a failure from the chat platform or LLM backend with enough
// information for the caller's retry policy to classify it.
type ErrRPC struct {
	Op         string
	Status     RPCStatus
	HTTPStatus int
	RetryAfter float64 // seconds; only meaningful when Status == RPCStatusRateLimited
	Err        error
}

func (e *ErrRPC) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *ErrRPC) Unwrap() error { return e.Err }

// ErrCacheIO signals a failure reading or writing the cache store.
type ErrCacheIO struct {
	Op  string
	Err error
}

func (e *ErrCacheIO) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *ErrCacheIO) Unwrap() error { return e.Err }

// ErrQueueCancelled is returned to any thunk still pending when
// ChatClient.ClearQueue is called (§4.A).
var ErrQueueCancelled = fmt.Errorf("shiftlog: request queue cleared")

var errInvalidTs = fmt.Errorf("shiftlog: invalid timestamp")
