// Package audit records access-control decisions and administrative actions
// to pluggable sinks (file, SQLite) so that "who was allowed what, and when"
// survives process restarts.
package audit

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the audited action.
type Operation string

const (
	OpAccessCheck  Operation = "access_check"
	OpAuthenticate Operation = "authenticate"
	OpRegister     Operation = "register"
	OpDeregister   Operation = "deregister"
	OpFlushCache   Operation = "flush_cache"
	OpStart        Operation = "start"
	OpStop         Operation = "stop"
)

// Status is the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusFailure Status = "failure"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	// User is the identifier the decision was made for; empty for
	// administrative operations.
	User string `json:"user,omitempty"`

	// Resource is the protected resource name involved, if any.
	Resource string `json:"resource,omitempty"`

	// Detail carries the diagnostic for denials and failures.
	Detail string `json:"detail,omitempty"`
}

// NewEntry builds an entry with a fresh ID and the current timestamp.
func NewEntry(op Operation, status Status) *Entry {
	return &Entry{
		ID:        generateID(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Status:    status,
	}
}

// JSON renders the entry as a single JSON line.
func (e *Entry) JSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("audit: encode entry %s: %w", e.ID, err)
	}
	return data, nil
}

func generateID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
