// Package config loads the engine's external configuration: the
// environment variables named in spec section 6 (CORE_STORE_PATH,
// CORE_WORKERS, CORE_RECURSION_LIMIT), plus an optional YAML file for
// durable-backend selection and worker pool sizing. Grounded on
// registry/cmd/registry/main.go's envOr/envIntOr helpers, generalized
// into a loadable struct and extended with a YAML layer the way the
// teacher's clue-based tooling layers file config under env overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Backend selects which store.Backend implementation the durable tier
// uses.
type Backend string

const (
	// BackendNone runs with the ephemeral tier only (store.New with no
	// WithBackend option).
	BackendNone Backend = "none"
	// BackendBbolt is the reference embedded WAL backend (spec section
	// 4.4/6).
	BackendBbolt Backend = "bbolt"
	// BackendMongo is the durable document-store backend.
	BackendMongo Backend = "mongo"
	// BackendRedis is the durable key-value backend.
	BackendRedis Backend = "redis"
)

// Config is the resolved, validated configuration for a voxlogica-core
// process: store backend selection, worker pool size, and the
// reducer's recursion limit.
type Config struct {
	// StorePath is CORE_STORE_PATH: the durable tier directory (or file,
	// for bbolt) root. Empty means ephemeral-only.
	StorePath string `yaml:"store_path"`
	// Backend selects which durable Backend StorePath (or the mongo/redis
	// URL fields below) is interpreted against.
	Backend Backend `yaml:"backend"`
	// Workers overrides the engine's worker pool size (CORE_WORKERS).
	// Zero means "use runtime.NumCPU()".
	Workers int `yaml:"workers"`
	// RecursionLimit overrides the reducer's user-defined-function call
	// depth (CORE_RECURSION_LIMIT). Zero means "use the reducer's
	// default".
	RecursionLimit int `yaml:"recursion_limit"`

	// MongoURI and MongoDatabase configure the mongo backend when
	// Backend == BackendMongo. Read only from the YAML file — there is
	// no spec-mandated environment variable for them.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// RedisAddr configures the redis backend when Backend ==
	// BackendRedis.
	RedisAddr string `yaml:"redis_addr"`
}

// Load resolves a Config from, in increasing precedence: built-in
// defaults, an optional YAML file at yamlPath (skipped silently if
// yamlPath is empty or the file does not exist), then the environment
// variables named in spec section 6. Env vars always win, mirroring the
// teacher's registry command where explicit environment configuration
// is the outermost layer.
func Load(yamlPath string) (Config, error) {
	cfg := Config{
		Backend: BackendNone,
		Workers: runtime.NumCPU(),
	}

	if yamlPath != "" {
		if err := applyYAMLFile(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("config: workers must be positive, got %d", cfg.Workers)
	}
	switch cfg.Backend {
	case BackendNone, BackendBbolt, BackendMongo, BackendRedis:
	default:
		return Config{}, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}

	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CORE_STORE_PATH"); v != "" {
		cfg.StorePath = v
		if cfg.Backend == BackendNone {
			cfg.Backend = BackendBbolt
		}
	}
	if v := os.Getenv("CORE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("CORE_RECURSION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RecursionLimit = n
		}
	}
}
