package infra

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/xzaccess/internal/access"
	"github.com/ruslano69/xzaccess/internal/directory"
	"github.com/ruslano69/xzaccess/pkg/audit"
)

// Infra holds all live infrastructure handles for the running service.
type Infra struct {
	Manager *access.Manager
	Redis   *redis.Client // nil unless the redis cache backend is selected
	Audit   *audit.Logger // nil when no audit sink is configured

	// dev-mode internal instances; nil in production
	Fake      *directory.Fake
	miniRedis *miniredis.Miniredis
}

// Setup wires the cache store, the audit trail and the access manager.
//   - dev=true: in-memory fake directory (seeded from the mock users file)
//     and, with the redis backend, an in-process miniredis.
//   - dev=false: real LDAP connection pool and the configured Redis.
//
// The manager is returned stopped; the caller decides when to Start it.
func Setup(cfg *Config, dev bool) (*Infra, error) {
	inf := &Infra{}

	var cache access.Store
	switch cfg.Cache.Backend {
	case "redis":
		addr := cfg.Cache.Redis.Addr
		if dev {
			mini, err := miniredis.Run()
			if err != nil {
				return nil, fmt.Errorf("infra: miniredis: %w", err)
			}
			inf.miniRedis = mini
			addr = mini.Addr()
			log.Info().Str("redis", addr).Msg("dev: in-process miniredis started")
		}
		inf.Redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err := inf.Redis.Ping(context.Background()).Err(); err != nil {
			inf.Close()
			return nil, fmt.Errorf("infra: redis ping: %w", err)
		}
		cache = access.NewRedisStore(inf.Redis, cfg.Cache.TTL)
	default:
		cache = access.NewMemoryStore()
	}

	var appenders []audit.Appender
	if cfg.Audit.FilePath != "" {
		fa, err := audit.NewFileAppender(cfg.Audit.FilePath)
		if err != nil {
			inf.Close()
			return nil, fmt.Errorf("infra: audit file: %w", err)
		}
		appenders = append(appenders, fa)
	}
	if cfg.Audit.SQLitePath != "" {
		sa, err := audit.NewSQLiteAppender(cfg.Audit.SQLitePath)
		if err != nil {
			inf.Close()
			return nil, fmt.Errorf("infra: audit sqlite: %w", err)
		}
		appenders = append(appenders, sa)
	}
	if len(appenders) > 0 {
		inf.Audit = audit.NewLogger(audit.LoggerConfig{
			OnError: func(err error) {
				log.Warn().Err(err).Msg("audit write failed")
			},
		}, appenders...)
	}

	dial := access.Dialer(nil)
	if dev {
		fake, err := devDirectory(cfg.Access.MockUsersFile)
		if err != nil {
			inf.Close()
			return nil, err
		}
		inf.Fake = fake
		dial = func(directory.Config) (directory.Client, error) { return fake, nil }
	}

	mgr := access.NewManager(access.Config{
		Directory:      cfg.Directory,
		UserBaseDN:     cfg.Access.UserBaseDN,
		LoginAttribute: cfg.Access.LoginAttribute,
		ClientAuthDN:   cfg.Access.ClientAuthDN,
	}, access.Options{
		Cache:  cache,
		Dial:   dial,
		Logger: log.Logger,
		Audit:  inf.Audit,
	})

	for _, res := range cfg.Access.Resources {
		mgr.Register(context.Background(), res.Name, res.DN, false)
	}

	inf.Manager = mgr
	return inf, nil
}

// devDirectory builds the fake directory for --dev mode, seeded from the
// users file when given and with built-in defaults otherwise.
func devDirectory(usersFile string) (*directory.Fake, error) {
	if usersFile != "" {
		fake, err := directory.NewFakeFromFile(usersFile)
		if err != nil {
			return nil, fmt.Errorf("infra: mock directory: %w", err)
		}
		return fake, nil
	}

	fake := directory.NewFake()
	fake.Add(directory.Entry{
		DN: "uid=admin,ou=people,dc=example,dc=com",
		Attributes: map[string][]string{
			"uid":          {"admin"},
			"nsRole":       {"cn=admins,ou=roles,dc=example,dc=com"},
			"userPassword": {"admin"},
		},
	})
	fake.Add(directory.Entry{
		DN: "uid=viewer,ou=people,dc=example,dc=com",
		Attributes: map[string][]string{
			"uid":          {"viewer"},
			"userPassword": {"viewer"},
		},
	})
	fake.Add(directory.Entry{
		DN: "cn=viewers,ou=groups,dc=example,dc=com",
		Attributes: map[string][]string{
			"objectclass": {"groupOfNames"},
			"member":      {"uid=viewer,ou=people,dc=example,dc=com"},
		},
	})
	return fake, nil
}

// Close releases all infrastructure resources. The manager is stopped first
// so nothing is resolving while the backends go away.
func (inf *Infra) Close() {
	if inf.Manager != nil && !inf.Manager.IsStopped() {
		inf.Manager.Stop()
	}
	if inf.Audit != nil {
		_ = inf.Audit.Close()
	}
	if inf.Redis != nil {
		_ = inf.Redis.Close()
	}
	if inf.miniRedis != nil {
		inf.miniRedis.Close()
	}
}
