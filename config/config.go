/*
Package config loads the engine configuration.

LAYERS (later wins):
  1. Defaults (this file)
  2. Optional config file (YAML, TOML or JSON, by extension)
  3. Environment: CLAIMS_<SECTION>_<KEY>, e.g. CLAIMS_LEDGER_RPC_URL

An empty ledger.rpc_url or server.dev=true selects the simulated ledger.
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CLAIMS"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Journal JournalConfig `mapstructure:"journal"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Minio   MinioConfig   `mapstructure:"minio"`
	Redis   RedisConfig   `mapstructure:"redis"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Dev             bool          `mapstructure:"dev"`
	RegistryRefresh time.Duration `mapstructure:"registry_refresh"` // 0 disables
}

type LedgerConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	FromBlock       uint64        `mapstructure:"from_block"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type BlobConfig struct {
	Backend string `mapstructure:"backend"` // memory | minio
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Location  string `mapstructure:"location"`
	Secure    bool   `mapstructure:"secure"`
}

// RedisConfig enables the shared in-flight guard when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // renewed while held; bounds a crashed holder
}

// AMQPConfig enables notifications when URL is set.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev", false)
	v.SetDefault("server.registry_refresh", "1m")
	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.chain_id", 31337)
	v.SetDefault("ledger.from_block", 0)
	v.SetDefault("ledger.poll_interval", "2s")
	v.SetDefault("journal.path", "./data/claims.db")
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minio")
	v.SetDefault("minio.secret_key", "minio123")
	v.SetDefault("minio.bucket", "claim-documents")
	v.SetDefault("minio.location", "us-east-1")
	v.SetDefault("minio.secure", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "10m")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "claims.events")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UseSimulator reports whether the server should run on the simulated ledger.
func (c *Config) UseSimulator() bool {
	return c.Server.Dev || c.Ledger.RPCURL == ""
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Blob.Backend {
	case "memory", "minio":
	default:
		return fmt.Errorf("blob.backend must be memory or minio, got %q", c.Blob.Backend)
	}
	if !c.UseSimulator() {
		if c.Ledger.ContractAddress == "" {
			return fmt.Errorf("ledger.contract_address is required with ledger.rpc_url")
		}
		if c.Ledger.PrivateKey == "" {
			return fmt.Errorf("ledger.private_key is required with ledger.rpc_url")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// SlogLevel maps log.level to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
