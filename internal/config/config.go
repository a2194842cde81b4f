package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// EnvPrefix is prepended to every environment override, e.g. REDISCMD_NODE
const EnvPrefix = "REDISCMD"

type Config struct {
	Env      string `mapstructure:"env"`
	HTTPAddr string `mapstructure:"http_addr"`

	Backend  string   `mapstructure:"backend"`
	Mode     string   `mapstructure:"mode"`
	Nodes    []string `mapstructure:"nodes"`
	Node     string   `mapstructure:"node"`
	Password string   `mapstructure:"password"`

	Pool     PoolConfig     `mapstructure:",squash"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Security SecurityConfig `mapstructure:",squash"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"rate_limit_rpm"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type PoolConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WorkerConfig struct {
	Stream        string        `mapstructure:"stream"`
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
	DeleteOnAck   bool          `mapstructure:"delete_on_ack"`
}

func loadDotEnvFiles(configPath string) {
	candidates := []string{
		".env",
		filepath.Join(filepath.Dir(configPath), ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if !filepath.IsAbs(path) {
			if resolved, err := filepath.Abs(path); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("backend", string(kv.BackendRedis))
	v.SetDefault("mode", "")
	v.SetDefault("nodes", []string{})
	v.SetDefault("node", "")
	v.SetDefault("password", "")
	v.SetDefault("pool_size", 0)
	v.SetDefault("min_idle_conns", 0)
	v.SetDefault("dial_timeout", "5s")
	v.SetDefault("read_timeout", "0s")
	v.SetDefault("write_timeout", "0s")
	v.SetDefault("worker.stream", "events")
	v.SetDefault("worker.group", "workers")
	v.SetDefault("worker.consumer", "")
	v.SetDefault("worker.claim_min_idle", "60s")
	v.SetDefault("worker.claim_interval", "5s")
	v.SetDefault("worker.delete_on_ack", false)
	v.SetDefault("rate_limit_rpm", 600)
	v.SetDefault("cors_allowed_origins", []string{"http://localhost:3000"})
}

// Load reads the TOML file at path. Environment variables prefixed with
// REDISCMD_ override file values; nested keys use an underscore, e.g.
// REDISCMD_WORKER_STREAM. A missing or unparsable file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	loadDotEnvFiles(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for program startup; it panics on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Node = strings.TrimSpace(c.Node)

	nodes := c.Nodes[:0]
	for _, n := range c.Nodes {
		// env overrides arrive as one comma separated value
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				nodes = append(nodes, part)
			}
		}
	}
	c.Nodes = nodes

	if c.Worker.Consumer == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.Consumer = host
		} else {
			c.Worker.Consumer = "streamworker"
		}
	}
}

func (c *Config) validate() error {
	switch kv.Backend(c.Backend) {
	case kv.BackendRedis:
		if len(c.Nodes) == 0 && c.Node == "" {
			return fmt.Errorf("redis backend requires nodes (cluster) or node (single)")
		}
	case kv.BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q (must be redis or memory)", c.Backend)
	}

	switch kv.Mode(c.Mode) {
	case "":
	case kv.ModeCluster:
		if len(c.Nodes) == 0 && kv.Backend(c.Backend) == kv.BackendRedis {
			return fmt.Errorf("cluster mode requires nodes")
		}
	case kv.ModeSingle:
		if c.Node == "" && kv.Backend(c.Backend) == kv.BackendRedis {
			return fmt.Errorf("single mode requires node")
		}
	default:
		return fmt.Errorf("invalid mode %q (must be cluster or single)", c.Mode)
	}

	if c.Pool.PoolSize < 0 || c.Pool.MinIdleConns < 0 {
		return fmt.Errorf("pool_size and min_idle_conns must not be negative")
	}
	if c.Worker.Stream == "" || c.Worker.Group == "" {
		return fmt.Errorf("worker.stream and worker.group are required")
	}
	if c.Worker.ClaimInterval <= 0 {
		return fmt.Errorf("worker.claim_interval must be positive")
	}
	if c.Worker.ClaimMinIdle < 0 {
		return fmt.Errorf("worker.claim_min_idle must not be negative")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// KV builds the store configuration
func (c *Config) KV(logger *zap.SugaredLogger, recorder kv.CommandRecorder) kv.Config {
	return kv.Config{
		Backend:      kv.Backend(c.Backend),
		Mode:         kv.Mode(c.Mode),
		Nodes:        c.Nodes,
		Node:         c.Node,
		Password:     c.Password,
		PoolSize:     c.Pool.PoolSize,
		MinIdleConns: c.Pool.MinIdleConns,
		DialTimeout:  c.Pool.DialTimeout,
		ReadTimeout:  c.Pool.ReadTimeout,
		WriteTimeout: c.Pool.WriteTimeout,
		Logger:       logger,
		Recorder:     recorder,
	}
}
