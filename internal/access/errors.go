package access

import (
	"errors"
	"fmt"
)

// ErrUserNotFound reports that the user entry could not be located in the
// directory. AccessibleResources propagates it; MayAccess converts it to a
// plain deny.
var ErrUserNotFound = errors.New("access: user not found in directory")

// ErrAlreadyStarted is returned by Start when the manager is running.
var ErrAlreadyStarted = errors.New("access: manager already started")

// ConnectError reports a start-time dial or bind failure. The manager stays
// stopped when Start returns one.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("access: directory connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError reports a directory failure during resolution other than the
// locally recovered "no such object" case. Results carrying a QueryError are
// never cached, so a later call retries against the directory.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("access: directory query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
