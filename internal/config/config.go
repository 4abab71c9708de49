package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tradegate/internal/collab"
	"tradegate/internal/logging"
)

// Config is the gateway configuration, loaded once at startup. API keys and
// their roles live here; rotating them requires a restart.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Status        StatusConfig        `yaml:"status"`
	Command       CommandConfig       `yaml:"command"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Cache         CacheConfig         `yaml:"cache"`
	Audit         AuditConfig         `yaml:"audit"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	CORS          CORSConfig          `yaml:"cors"`
	Logging       logging.Config      `yaml:"logging"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig holds the two listener configurations.
type ServerConfig struct {
	REST      ListenConfig `yaml:"rest"`
	WebSocket ListenConfig `yaml:"websocket"`
}

// ListenConfig is one HTTP listener.
type ListenConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// AuthConfig holds API keys and the session-token settings.
type AuthConfig struct {
	// APIKeys maps an opaque key string to a role name (admin/trader/viewer).
	APIKeys map[string]string `yaml:"api_keys"`
	JWT     JWTConfig         `yaml:"jwt"`
}

// JWTConfig configures issued bearer tokens.
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// StatusConfig tunes snapshot caching and probing.
type StatusConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// CommandConfig tunes command execution.
type CommandConfig struct {
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}

// CollaboratorsConfig binds commands and files of the local trading processes.
type CollaboratorsConfig struct {
	Commands    collab.CommandSet `yaml:"commands"`
	LogFile     string            `yaml:"log_file"`
	MaxLogLines int               `yaml:"max_log_lines"`
	SignalFile  string            `yaml:"signal_file"`
	ConfigFile  string            `yaml:"config_file"`
}

// CacheConfig selects the signal/snapshot cache backend.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory or redis
	SignalTTL time.Duration `yaml:"signal_ttl"`
	Redis     RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the optional Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuditConfig configures the command audit trail.
type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DSN            string `yaml:"dsn"` // postgres DSN; empty keeps audit in memory
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// BackupConfig schedules automatic backups.
type BackupConfig struct {
	Schedule string `yaml:"schedule"` // cron expression; empty disables
}

// MonitoringConfig toggles Prometheus exposure.
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// RateLimitConfig configures the REST token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CORSConfig configures cross-origin access for the dashboard.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads the YAML file, applies environment overrides and defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides(NewEnvManager("", ""))
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override secrets and ports
// without editing the config file. Secret values may be stored encrypted
// ("ENC:" prefix).
func (c *Config) applyEnvOverrides(env *EnvManager) {
	c.Server.REST.Port = env.GetInt("rest_port", c.Server.REST.Port)
	c.Server.WebSocket.Port = env.GetInt("ws_port", c.Server.WebSocket.Port)
	c.Auth.JWT.SecretKey = env.GetEncryptedString("jwt_secret", c.Auth.JWT.SecretKey)
	c.Cache.Redis.Addr = env.GetString("redis_addr", c.Cache.Redis.Addr)
	c.Cache.Redis.Password = env.GetEncryptedString("redis_password", c.Cache.Redis.Password)
	c.Audit.DSN = env.GetEncryptedString("audit_dsn", c.Audit.DSN)
	c.Logging.Level = env.GetString("log_level", c.Logging.Level)
}

func (c *Config) applyDefaults() {
	if c.Server.REST.Port == 0 {
		c.Server.REST.Port = 8081
	}
	if c.Server.WebSocket.Port == 0 {
		c.Server.WebSocket.Port = 8082
	}
	if c.Server.REST.ReadTimeout == 0 {
		c.Server.REST.ReadTimeout = 30 * time.Second
	}
	if c.Server.REST.WriteTimeout == 0 {
		c.Server.REST.WriteTimeout = 30 * time.Second
	}
	if c.Server.REST.MaxHeaderBytes == 0 {
		c.Server.REST.MaxHeaderBytes = 1 << 20
	}
	if c.Status.TTL == 0 {
		c.Status.TTL = 5 * time.Second
	}
	if c.Status.ProbeTimeout == 0 {
		c.Status.ProbeTimeout = 2 * time.Second
	}
	if c.Status.BroadcastInterval == 0 {
		c.Status.BroadcastInterval = 5 * time.Second
	}
	if c.Command.ExecutionTimeout == 0 {
		c.Command.ExecutionTimeout = 30 * time.Second
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.SignalTTL == 0 {
		c.Cache.SignalTTL = 10 * time.Second
	}
	if c.Audit.MemoryCapacity == 0 {
		c.Audit.MemoryCapacity = 1000
	}
	if c.Auth.JWT.Duration == 0 {
		c.Auth.JWT.Duration = time.Hour
	}
	if c.Collaborators.MaxLogLines == 0 {
		c.Collaborators.MaxLogLines = 1000
	}
	if c.Monitoring.PrometheusPath == "" {
		c.Monitoring.PrometheusPath = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("config: at least one API key must be configured")
	}
	for key, role := range c.Auth.APIKeys {
		if len(key) < 8 {
			return fmt.Errorf("config: API key %q is too short (minimum 8 characters)", key)
		}
		switch role {
		case "admin", "trader", "viewer":
		default:
			return fmt.Errorf("config: unknown role %q for API key", role)
		}
	}
	if c.Auth.JWT.SecretKey == "" {
		return fmt.Errorf("config: auth.jwt.secret_key is required")
	}
	if c.Server.REST.Port == c.Server.WebSocket.Port {
		return fmt.Errorf("config: REST and WebSocket listeners must use different ports")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}
