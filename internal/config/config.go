// Package config loads the crosscheck runtime configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Investigation InvestigationConfig `mapstructure:"investigation"`
	Federation    FederationConfig    `mapstructure:"federation"`
	CheckLog      CheckLogConfig      `mapstructure:"checklog"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Grants        map[string][]string `mapstructure:"grants"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`

	// ReplicaDSN points central-index reads at a replica; empty means the
	// primary serves reads too.
	ReplicaDSN string `mapstructure:"replica_dsn"`
}

// DSN renders the primary connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type InvestigationConfig struct {
	MaxLimit      int  `mapstructure:"max_limit"`
	OrderedUnions bool `mapstructure:"ordered_unions"`
	PrivateActor  bool `mapstructure:"private_actor"`
	StrictCast    bool `mapstructure:"strict_cast"`
}

type FederationConfig struct {
	LocalSite         string        `mapstructure:"local_site"`
	RegistryPath      string        `mapstructure:"registry_path"`
	Lookback          time.Duration `mapstructure:"lookback"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	SiteTimeout       time.Duration `mapstructure:"site_timeout"`
	PageDeadline      time.Duration `mapstructure:"page_deadline"`
	CapabilityURL     string        `mapstructure:"capability_url"`
	CapabilityTimeout time.Duration `mapstructure:"capability_timeout"`
	CapabilityTTL     time.Duration `mapstructure:"capability_ttl"`
	Capabilities      []string      `mapstructure:"capabilities"`
}

type CheckLogConfig struct {
	Secret string `mapstructure:"secret"`
}

type RetentionConfig struct {
	EventMaxAge time.Duration `mapstructure:"event_max_age"`
	IndexMaxAge time.Duration `mapstructure:"index_max_age"`
	BatchSize   int           `mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "crosscheck")
	v.SetDefault("database.user", "crosscheck")
	v.SetDefault("database.password", "crosscheck")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("investigation.max_limit", 5000)
	v.SetDefault("investigation.ordered_unions", true)
	v.SetDefault("investigation.private_actor", true)
	v.SetDefault("investigation.strict_cast", false)
	v.SetDefault("federation.local_site", "local")
	v.SetDefault("federation.registry_path", "sites.yaml")
	v.SetDefault("federation.lookback", "2160h")
	v.SetDefault("federation.max_concurrency", 8)
	v.SetDefault("federation.site_timeout", "5s")
	v.SetDefault("federation.page_deadline", "15s")
	v.SetDefault("federation.capability_timeout", "5s")
	v.SetDefault("federation.capability_ttl", "1m")
	v.SetDefault("federation.capabilities", []string{"investigate"})
	v.SetDefault("checklog.secret", "change-this-in-production")
	v.SetDefault("retention.event_max_age", "2160h")
	v.SetDefault("retention.index_max_age", "8760h")
	v.SetDefault("retention.batch_size", 500)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crosscheck")
	}

	// Environment variables override
	v.SetEnvPrefix("CROSSCHECK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
