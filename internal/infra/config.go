// Package infra handles configuration loading and infrastructure wiring.
package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/xzaccess/internal/access"
	"github.com/ruslano69/xzaccess/internal/directory"
)

// Config is the top-level configuration structure for xzaccess.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Directory directory.Config `yaml:"directory"`
	Access    AccessConfig     `yaml:"access"`
	Cache     CacheConfig      `yaml:"cache"`
	Audit     AuditConfig      `yaml:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // default ":3100"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default 10s
}

// AccessConfig holds the user-lookup settings and the protected resources
// registered at startup.
type AccessConfig struct {
	UserBaseDN     string `yaml:"user_base_dn"`
	LoginAttribute string `yaml:"login_attribute"` // default "uid"
	ClientAuthDN   string `yaml:"client_auth_dn"`  // optional

	// Resources are registered into the manager before it starts serving.
	Resources []access.Resource `yaml:"resources"`

	// MockUsersFile seeds the fake directory in --dev mode.
	MockUsersFile string `yaml:"mock_users_file"`
}

// CacheConfig selects the user-cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"` // "memory" (default) or "redis"
	TTL     time.Duration `yaml:"ttl"`     // redis entry TTL, default 120s
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig is a minimal Redis connection spec.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // host:port
	Password string `yaml:"password"` // empty = no auth
	DB       int    `yaml:"db"`
}

// AuditConfig selects the audit sinks; both are optional.
type AuditConfig struct {
	FilePath   string `yaml:"file_path"`   // JSON-lines audit file
	SQLitePath string `yaml:"sqlite_path"` // SQLite database
}

// LoadConfig reads and validates the YAML config at path, applying defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	// Defaults
	cfg.Server.Addr = ":3100"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Directory.Timeout = 30 * time.Second
	cfg.Directory.PoolSize = 4
	cfg.Access.LoginAttribute = "uid"
	cfg.Cache.Backend = "memory"
	cfg.Cache.TTL = 120 * time.Second

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	// Bind password: config file takes precedence; env var is the fallback.
	if cfg.Directory.BindPassword == "" {
		cfg.Directory.BindPassword = os.Getenv("XZACCESS_BIND_PASSWORD")
	}

	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("config: cache.backend %q must be memory or redis", cfg.Cache.Backend)
	}
	if cfg.Access.UserBaseDN == "" {
		return nil, fmt.Errorf("config: access.user_base_dn is required")
	}
	return cfg, nil
}
