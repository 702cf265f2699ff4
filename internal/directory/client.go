// Package directory provides the LDAP client used by the access manager.
//
// Production code uses the connection pool from NewPool; tests and --dev mode
// use the in-memory fake from NewFake. Both satisfy Client, so the access
// package never touches go-ldap directly.
package directory

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
)

// Scope selects how far below the base DN a search descends.
type Scope int

const (
	// ScopeBase searches only the entry at the base DN itself.
	ScopeBase Scope = iota
	// ScopeSubtree searches the base DN and everything below it.
	ScopeSubtree
)

// Sentinel errors mapped from directory result codes. Callers match these
// with errors.Is instead of importing go-ldap.
var (
	ErrNoSuchObject       = errors.New("directory: no such object")
	ErrInvalidCredentials = errors.New("directory: invalid credentials")
	ErrClosed             = errors.New("directory: client closed")
)

// Entry is one entry returned from a search.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// Values returns the values of the named attribute, matched
// case-insensitively as attribute names are in LDAP.
func (e Entry) Values(name string) []string {
	for k, v := range e.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// SearchRequest describes a single scoped search.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string // nil requests all, NoAttributes requests none
	TypesOnly  bool
}

// NoAttributes is the attribute list to use when only the presence of an
// entry matters.
var NoAttributes = []string{"1.1"}

// Client is the directory access contract consumed by the access manager.
type Client interface {
	// Search runs a scoped search and returns the matching entries.
	// A missing base object is reported as ErrNoSuchObject.
	Search(ctx context.Context, req SearchRequest) ([]Entry, error)

	// CheckCredentials verifies bindDN/password on a connection of its own,
	// which is always released before returning. A wrong password is
	// reported as ErrInvalidCredentials.
	CheckCredentials(ctx context.Context, bindDN, password string) error

	Close() error
}

// Config holds the directory connection parameters.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`          // default 389, or 636 with TLS
	BindDN       string        `yaml:"bind_dn"`       // service account
	BindPassword string        `yaml:"bind_password"` // env fallback XZACCESS_BIND_PASSWORD
	UseTLS       bool          `yaml:"tls"`
	BlindTrust   bool          `yaml:"blind_trust"` // accept any server certificate
	CACertFile   string        `yaml:"ca_cert_file"`
	CertFile     string        `yaml:"cert_file"` // client certificate pair
	KeyFile      string        `yaml:"key_file"`
	Timeout      time.Duration `yaml:"timeout"`   // per directory call, default 30s
	PoolSize     int           `yaml:"pool_size"` // max pooled connections, default 4
}

// Addr returns host:port with scheme-appropriate port defaults.
func (c Config) Addr() string {
	port := strconv.Itoa(c.Port)
	if c.Port == 0 {
		if c.UseTLS {
			port = goldap.DefaultLdapsPort
		} else {
			port = goldap.DefaultLdapPort
		}
	}
	return net.JoinHostPort(c.Host, port)
}

// NormalizeDN lower-cases and canonicalizes a distinguished name so that DN
// comparisons can use plain string equality. Values that do not parse as DNs
// come back lower-cased and trimmed, which keeps registration of not-quite-DN
// strings harmless.
func NormalizeDN(dn string) string {
	lowered := strings.ToLower(strings.TrimSpace(dn))
	parsed, err := goldap.ParseDN(lowered)
	if err != nil {
		return lowered
	}
	return parsed.String()
}
