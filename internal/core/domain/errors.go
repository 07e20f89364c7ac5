package domain

import "fmt"

// TransientError is a fetch failure worth retrying (network, timeout, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a fetch failure that retrying cannot fix (config, auth, parse).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// PublishError is a rejection by the downstream platform.
type PublishError struct {
	Target string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Target, e.Err)
}
func (e *PublishError) Unwrap() error { return e.Err }

// PersistenceError is a failed copy between stores. It is logged, never fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
