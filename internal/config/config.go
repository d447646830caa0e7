package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

// AppConfig holds reconciliation settings.
type AppConfig struct {
	IPFamilies     []string `mapstructure:"ip_families"`
	ProbeFrequency int      `mapstructure:"probe_frequency"`
	CycleInterval  int      `mapstructure:"cycle_interval"`
	DefaultTTL     int      `mapstructure:"default_ttl"`
	RecordLine     string   `mapstructure:"record_line"`
}

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

// ProviderConfig describes the DNSPod API endpoint.
type ProviderConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Host           string `mapstructure:"host"`
	Service        string `mapstructure:"service"`
	Version        string `mapstructure:"version"`
	Region         string `mapstructure:"region"`
	RequestTimeout int    `mapstructure:"request_timeout"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ProbeConfig describes the public IP lookup endpoints.
type ProbeConfig struct {
	LookupDomain string `mapstructure:"lookup_domain"`
	IPv4URL      string `mapstructure:"ipv4_url"`
	IPv6URL      string `mapstructure:"ipv6_url"`
	UserAgent    string `mapstructure:"user_agent"`
	Timeout      int    `mapstructure:"timeout"`
}

// StoreConfig selects where accounts and managed records live.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLiteDSN  string `mapstructure:"sqlite_dsn"`
	SealingKey string `mapstructure:"sealing_key"`
}

// EtcdConfig holds etcd-related configuration.
type EtcdConfig struct {
	Host        string  `mapstructure:"etcd_host"`
	Port        int     `mapstructure:"etcd_port"`
	PathPrefix  string  `mapstructure:"etcd_path_prefix"`
	DialTimeout float64 `mapstructure:"etcd_dial_timeout"`
	LockTTL     float64 `mapstructure:"etcd_lock_ttl"`
	LockTimeout float64 `mapstructure:"etcd_lock_timeout"`
}

// Config is the top-level configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  LoggingConfig  `mapstructure:"log"`
	Provider ProviderConfig `mapstructure:"provider"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Store    StoreConfig    `mapstructure:"store"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
}

const (
	BackendSQLite = "sqlite"
	BackendEtcd   = "etcd"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.ip_families", []string{"v4", "v6"})
	v.SetDefault("app.probe_frequency", 300)
	v.SetDefault("app.cycle_interval", 60)
	v.SetDefault("app.default_ttl", 600)
	v.SetDefault("app.record_line", "默认")
	v.SetDefault("log.log_level", "INFO")
	v.SetDefault("log.log_format", "console")
	v.SetDefault("provider.endpoint", "https://dnspod.tencentcloudapi.com")
	v.SetDefault("provider.host", "dnspod.tencentcloudapi.com")
	v.SetDefault("provider.service", "dnspod")
	v.SetDefault("provider.version", "2021-03-23")
	v.SetDefault("provider.region", "")
	v.SetDefault("provider.request_timeout", 10)
	v.SetDefault("provider.user_agent", "dnspod-ddns")
	v.SetDefault("probe.lookup_domain", "test-ipv6.com")
	v.SetDefault("probe.ipv4_url", "")
	v.SetDefault("probe.ipv6_url", "")
	v.SetDefault("probe.user_agent", "Mozilla/5.0 (compatible; dnspod-ddns)")
	v.SetDefault("probe.timeout", 10)
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite_dsn", "file:dnspod-ddns.db?cache=shared")
	v.SetDefault("store.sealing_key", "")
	v.SetDefault("etcd.etcd_host", "localhost")
	v.SetDefault("etcd.etcd_port", 2379)
	v.SetDefault("etcd.etcd_path_prefix", "/dnspod-ddns")
	v.SetDefault("etcd.etcd_dial_timeout", 2.0)
	v.SetDefault("etcd.etcd_lock_ttl", 5.0)
	v.SetDefault("etcd.etcd_lock_timeout", 2.0)
}

// InitConfig sets defaults, reads the config file when present and enables env overrides.
// An empty path looks for config.yaml in the working directory.
func InitConfig(path string) error {
	return initViper(viper.GetViper(), path)
}

func initViper(v *viper.Viper, path string) error {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // Looks for config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct.
func Load() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if len(c.App.IPFamilies) == 0 {
		return fmt.Errorf("app.ip_families: at least one family required")
	}
	if _, err := c.App.Families(); err != nil {
		return fmt.Errorf("app.ip_families: %w", err)
	}
	if c.App.ProbeFrequency < 0 {
		return fmt.Errorf("app.probe_frequency must not be negative")
	}
	if c.App.CycleInterval <= 0 {
		return fmt.Errorf("app.cycle_interval must be positive")
	}
	if c.App.DefaultTTL <= 0 {
		return fmt.Errorf("app.default_ttl must be positive")
	}
	switch c.Store.Backend {
	case BackendSQLite, BackendEtcd:
	default:
		return fmt.Errorf("store.backend: unsupported backend %q", c.Store.Backend)
	}
	return nil
}

// Families parses the configured ip families, dropping duplicates.
func (c AppConfig) Families() ([]domain.Family, error) {
	seen := make(map[domain.Family]bool)
	var out []domain.Family
	for _, s := range c.IPFamilies {
		f, err := domain.ParseFamily(s)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func (c EtcdConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c EtcdConfig) DialTimeoutDuration() time.Duration {
	return time.Duration(c.DialTimeout * float64(time.Second))
}

func (c AppConfig) ProbeFrequencyDuration() time.Duration {
	return time.Duration(c.ProbeFrequency) * time.Second
}

func (c AppConfig) CycleIntervalDuration() time.Duration {
	return time.Duration(c.CycleInterval) * time.Second
}

func (c ProviderConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c ProbeConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
