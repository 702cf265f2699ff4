// Package access implements the directory-backed access control cache for
// the admin interface: a registry of protected resources, a cache of
// per-user resolved access sets, and the membership resolution that combines
// role, static-group and dynamic-group membership from the user directory.
package access

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/xzaccess/internal/directory"
	"github.com/ruslano69/xzaccess/pkg/audit"
)

// FullAccessResource is the reserved resource name that implicitly grants
// every other resource. It participates in resolution like any registered
// resource; only MayAccess treats it specially.
const FullAccessResource = "full_access"

// Config holds everything the manager needs beyond its collaborators.
type Config struct {
	Directory      directory.Config `yaml:"directory"`
	UserBaseDN     string           `yaml:"user_base_dn"`
	LoginAttribute string           `yaml:"login_attribute"` // default "uid"
	// ClientAuthDN optionally names a role or group that clients must belong
	// to for AuthenticateClient to succeed. Empty means any valid bind wins.
	ClientAuthDN string `yaml:"client_auth_dn"`
}

// Dialer opens the directory client when the manager starts. Swapped out in
// tests and in --dev mode.
type Dialer func(directory.Config) (directory.Client, error)

// Options configures optional manager collaborators.
type Options struct {
	Cache  Store          // default NewMemoryStore()
	Dial   Dialer         // default directory.NewPool
	Logger zerolog.Logger // zero value discards output
	Audit  *audit.Logger  // nil disables the audit trail
}

// Manager owns the registry, the user cache and the directory client
// lifecycle, and exposes the access decisions consumed by request handlers.
// A new manager is stopped; call Start before use.
type Manager struct {
	cfg      Config
	registry *Registry
	cache    Store
	dial     Dialer
	log      zerolog.Logger
	audit    *audit.Logger

	// stopped is read lock-free on every access check and is flipped to
	// true before the directory client is released, so checks racing with
	// Stop fail closed.
	stopped atomic.Bool

	lifecycle sync.Mutex // serializes Start/Stop/Restart

	mu  sync.RWMutex // guards dir
	dir directory.Client
}

// NewManager builds a stopped manager.
func NewManager(cfg Config, opts Options) *Manager {
	if cfg.LoginAttribute == "" {
		cfg.LoginAttribute = "uid"
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryStore()
	}
	if opts.Dial == nil {
		opts.Dial = func(dc directory.Config) (directory.Client, error) {
			return directory.NewPool(dc)
		}
	}
	m := &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		cache:    opts.Cache,
		dial:     opts.Dial,
		log:      opts.Logger,
		audit:    opts.Audit,
	}
	m.stopped.Store(true)
	return m
}

// Start connects and binds to the user directory. On failure the manager
// stays stopped and a ConnectError is returned.
func (m *Manager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.stopped.Load() {
		return ErrAlreadyStarted
	}

	dir, err := m.dial(m.cfg.Directory)
	if err != nil {
		m.log.Error().Err(err).Msg("access manager start failed")
		m.recordAudit(audit.OpStart, audit.StatusFailure, "", "", err.Error())
		return &ConnectError{Err: err}
	}

	m.mu.Lock()
	m.dir = dir
	m.mu.Unlock()
	m.stopped.Store(false)

	m.log.Info().Str("directory", m.cfg.Directory.Addr()).Msg("access manager started")
	m.recordAudit(audit.OpStart, audit.StatusSuccess, "", "", "")
	return nil
}

// Stop marks the manager stopped, releases the directory client and clears
// the user cache. Client close errors are logged, never propagated.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	// Flip the flag before touching the client so any check beginning now
	// observes stopped and fails closed.
	m.stopped.Store(true)

	m.mu.Lock()
	dir := m.dir
	m.dir = nil
	m.mu.Unlock()

	if dir != nil {
		if err := dir.Close(); err != nil {
			m.log.Warn().Err(err).Msg("directory client close failed")
		}
	}
	if err := m.cache.Flush(context.Background()); err != nil {
		m.log.Warn().Err(err).Msg("cache flush on stop failed")
	}
	m.updateCachedUsers()

	m.log.Info().Msg("access manager stopped")
	m.recordAudit(audit.OpStop, audit.StatusSuccess, "", "", "")
}

// Restart is Stop followed by Start.
func (m *Manager) Restart() error {
	m.Stop()
	return m.Start()
}

// IsStopped reports whether the manager is stopped, without locking.
func (m *Manager) IsStopped() bool {
	return m.stopped.Load()
}

// Register adds or replaces a protected resource. With flushCache true the
// whole user cache is cleared, since cached users may now be eligible for
// the newly protected resource.
func (m *Manager) Register(ctx context.Context, resourceName, authorizationDN string, flushCache bool) {
	m.registry.Register(resourceName, authorizationDN)
	m.log.Info().
		Str("resource", resourceName).
		Str("dn", authorizationDN).
		Bool("flush", flushCache).
		Msg("protected resource registered")
	if flushCache {
		m.FlushUserCache(ctx)
	}
	m.recordAudit(audit.OpRegister, audit.StatusSuccess, "", resourceName, authorizationDN)
}

// Deregister removes a protected resource if present. The cache is flushed
// only when a resource was actually removed and flushCache is set.
func (m *Manager) Deregister(ctx context.Context, resourceName string, flushCache bool) {
	if !m.registry.Deregister(resourceName) {
		return
	}
	m.log.Info().Str("resource", resourceName).Msg("protected resource deregistered")
	if flushCache {
		m.FlushUserCache(ctx)
	}
	m.recordAudit(audit.OpDeregister, audit.StatusSuccess, "", resourceName, "")
}

// ProtectedResources returns a snapshot of the registry in insertion order.
func (m *Manager) ProtectedResources() []Resource {
	return m.registry.Snapshot()
}

// FlushUserCache clears every cached access set.
func (m *Manager) FlushUserCache(ctx context.Context) {
	if err := m.cache.Flush(ctx); err != nil {
		m.log.Warn().Err(err).Msg("user cache flush failed")
		return
	}
	m.updateCachedUsers()
	m.log.Info().Msg("user cache flushed")
}

// AccessibleResources returns the names of the protected resources the user
// may access, consulting the cache first. When the manager is stopped it
// returns an empty set without touching cache or directory. ErrUserNotFound
// and QueryError propagate; failed resolutions are never cached.
func (m *Manager) AccessibleResources(ctx context.Context, userID string) ([]string, error) {
	if m.stopped.Load() {
		m.log.Debug().Str("user", userID).Msg("access check while stopped, denying")
		return []string{}, nil
	}

	if names, ok, err := m.cache.Get(ctx, userID); err != nil {
		// A broken cache backend degrades to resolving every time.
		m.log.Warn().Err(err).Msg("cache get failed, resolving from directory")
	} else if ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return names, nil
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()

	m.mu.RLock()
	dir := m.dir
	m.mu.RUnlock()
	if dir == nil {
		return []string{}, nil
	}

	res := &resolver{
		dir:        dir,
		userBaseDN: m.cfg.UserBaseDN,
		loginAttr:  m.cfg.LoginAttribute,
		log:        m.log,
	}
	start := time.Now()
	names, err := res.accessibleResources(ctx, userID, m.registry.Snapshot())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			resolutionsTotal.WithLabelValues("user_not_found").Inc()
		} else {
			resolutionsTotal.WithLabelValues("query_error").Inc()
		}
		return nil, err
	}
	resolutionsTotal.WithLabelValues("resolved").Inc()
	m.log.Debug().
		Str("user", userID).
		Strs("resources", names).
		Dur("took", time.Since(start)).
		Msg("resolved accessible resources")

	// Skip the cache write if a concurrent Stop already flushed it.
	if !m.stopped.Load() {
		if err := m.cache.Put(ctx, userID, names); err != nil {
			m.log.Warn().Err(err).Msg("cache put failed")
		}
		m.updateCachedUsers()
	}
	return names, nil
}

// MayAccess reports whether the user may access the named resource, either
// directly or through the full-access resource. It returns false rather than
// an error when the manager is stopped or the user is unknown; directory
// query failures propagate so callers can tell "denied" from "directory
// unavailable".
func (m *Manager) MayAccess(ctx context.Context, userID, resourceName string) (bool, error) {
	if m.stopped.Load() {
		m.log.Debug().
			Str("user", userID).
			Str("resource", resourceName).
			Msg("access check while stopped, denying")
		return false, nil
	}

	names, err := m.AccessibleResources(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			m.recordDecision(userID, resourceName, false, "user not found")
			return false, nil
		}
		return false, err
	}

	allowed := slices.Contains(names, resourceName) ||
		slices.Contains(names, FullAccessResource)
	m.recordDecision(userID, resourceName, allowed, "")
	return allowed, nil
}

func (m *Manager) recordDecision(userID, resourceName string, allowed bool, detail string) {
	verdict := "denied"
	status := audit.StatusDenied
	if allowed {
		verdict = "allowed"
		status = audit.StatusSuccess
	}
	decisionsTotal.WithLabelValues(verdict).Inc()
	m.recordAudit(audit.OpAccessCheck, status, userID, resourceName, detail)
}

func (m *Manager) recordAudit(op audit.Operation, status audit.Status, user, resource, detail string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(&audit.Entry{
		Operation: op,
		Status:    status,
		User:      user,
		Resource:  resource,
		Detail:    detail,
	})
}

func (m *Manager) updateCachedUsers() {
	if mem, ok := m.cache.(*MemoryStore); ok {
		cachedUsers.Set(float64(mem.Len()))
	}
}
