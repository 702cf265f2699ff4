package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPoolSize = 4
)

// Pool is a Client backed by a small pool of bound LDAP connections. Each
// logical operation checks a connection out for its duration, so concurrent
// resolutions do not serialize on one shared connection.
type Pool struct {
	cfg    Config
	tlsCfg *tls.Config // nil for plain connections

	mu     sync.Mutex
	idle   []*goldap.Conn
	closed bool
}

// NewPool builds the TLS material, dials the directory and binds with the
// service account. A dial or bind failure means no pool is created.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	p := &Pool{cfg: cfg}
	if cfg.UseTLS {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		p.tlsCfg = tlsCfg
	}

	// Bind eagerly so a bad address or bad service credentials fail here,
	// not on the first access check.
	conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.idle = append(p.idle, conn)
	return p, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.BlindTrust {
		tlsCfg.InsecureSkipVerify = true
		return tlsCfg, nil
	}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("directory: read CA cert %q: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("directory: no certificates parsed from %q", cfg.CACertFile)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("directory: load client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (p *Pool) dial() (*goldap.Conn, error) {
	scheme := "ldap://"
	var opts []goldap.DialOpt
	if p.tlsCfg != nil {
		scheme = "ldaps://"
		opts = append(opts, goldap.DialWithTLSConfig(p.tlsCfg))
	}
	conn, err := goldap.DialURL(scheme+p.cfg.Addr(), opts...)
	if err != nil {
		return nil, fmt.Errorf("directory: dial %s: %w", p.cfg.Addr(), err)
	}
	conn.SetTimeout(p.cfg.Timeout)
	if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("directory: bind %q: %w", p.cfg.BindDN, err)
	}
	return conn, nil
}

func (p *Pool) get(ctx context.Context) (*goldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()
	return p.dial()
}

// put returns a connection to the pool. Connections that produced an error
// are discarded; a fresh one is dialed on the next checkout.
func (p *Pool) put(conn *goldap.Conn, broken bool) {
	p.mu.Lock()
	if !broken && !p.closed && len(p.idle) < p.cfg.PoolSize {
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// Search implements Client.
func (p *Pool) Search(ctx context.Context, req SearchRequest) ([]Entry, error) {
	conn, err := p.get(ctx)
	if err != nil {
		return nil, err
	}

	scope := goldap.ScopeBaseObject
	if req.Scope == ScopeSubtree {
		scope = goldap.ScopeWholeSubtree
	}
	res, err := conn.Search(goldap.NewSearchRequest(
		req.BaseDN,
		scope,
		goldap.NeverDerefAliases,
		0, 0,
		req.TypesOnly,
		req.Filter,
		req.Attributes,
		nil,
	))
	p.put(conn, err != nil)
	if err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultNoSuchObject) {
			return nil, fmt.Errorf("search %q: %w", req.BaseDN, ErrNoSuchObject)
		}
		return nil, fmt.Errorf("directory: search %q: %w", req.BaseDN, err)
	}

	entries := make([]Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		attrs := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs[a.Name] = a.Values
		}
		entries = append(entries, Entry{DN: e.DN, Attributes: attrs})
	}
	return entries, nil
}

// CheckCredentials implements Client. The verification bind always happens
// on its own connection so pooled connections keep the service identity.
func (p *Pool) CheckCredentials(ctx context.Context, bindDN, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	scheme := "ldap://"
	var opts []goldap.DialOpt
	if p.tlsCfg != nil {
		scheme = "ldaps://"
		opts = append(opts, goldap.DialWithTLSConfig(p.tlsCfg))
	}
	conn, err := goldap.DialURL(scheme+p.cfg.Addr(), opts...)
	if err != nil {
		return fmt.Errorf("directory: dial %s: %w", p.cfg.Addr(), err)
	}
	defer conn.Close()
	conn.SetTimeout(p.cfg.Timeout)

	if err := conn.Bind(bindDN, password); err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials) {
			return fmt.Errorf("bind %q: %w", bindDN, ErrInvalidCredentials)
		}
		return fmt.Errorf("directory: bind %q: %w", bindDN, err)
	}
	return nil
}

// Close discards all pooled connections. In-flight operations finish with
// errors; later checkouts get ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
	return nil
}
