package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
)

type QueueDriver string

const (
	QueueMemory QueueDriver = "memory"
	QueueRedis  QueueDriver = "redis"
)

const (
	DefaultCallbackPath   = "/post"
	DefaultServerAddress  = ":8080"
	DefaultNetworkTimeout = 3 * time.Second
	DefaultQueueTTL       = 24 * time.Hour
	DefaultKeyBits        = 4096
	DefaultRegisterPolicy = "closed"
	DefaultAccessPolicy   = "private"
	DefaultDirectoryMode  = "standalone"
)

type Config struct {
	Site    SiteConfig    `json:"site" yaml:"site"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Network NetworkConfig `json:"network" yaml:"network"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Queue   QueueConfig   `json:"queue" yaml:"queue"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Keys    KeysConfig    `json:"keys" yaml:"keys"`
}

type SiteConfig struct {
	URL            string `json:"url" yaml:"url"`
	CallbackPath   string `json:"callback_path" yaml:"callback_path"`
	AdminEmail     string `json:"admin_email" yaml:"admin_email"`
	RegisterPolicy string `json:"register_policy" yaml:"register_policy"`
	AccessPolicy   string `json:"access_policy" yaml:"access_policy"`
	DirectoryMode  string `json:"directory_mode" yaml:"directory_mode"`
	DirectoryURL   string `json:"directory_url" yaml:"directory_url"`
	KeyPath        string `json:"key_path" yaml:"key_path"`
}

type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	TLSCert string `json:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `json:"tls_key" yaml:"tls_key"`
}

type NetworkConfig struct {
	Timeout            Duration `json:"timeout" yaml:"timeout"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type StoreConfig struct {
	Driver StoreDriver `json:"driver" yaml:"driver"`
	DSN    string      `json:"dsn" yaml:"dsn"`
}

type QueueConfig struct {
	Driver    QueueDriver `json:"driver" yaml:"driver"`
	RedisAddr string      `json:"redis_addr" yaml:"redis_addr"`
	TTL       Duration    `json:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

type KeysConfig struct {
	Bits int `json:"bits" yaml:"bits"`
}

// Load reads path (YAML for .yaml/.yml, JSON otherwise), applies SPREZZ_*
// environment overrides and defaults, and validates the result. An empty
// path starts from an empty configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, filepath.Ext(path), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data into cfg according to the file extension ext.
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with any SPREZZ_* variables that are set.
func (c *Config) ApplyEnv() error {
	c.Site.URL = getEnv("SPREZZ_SITE_URL", c.Site.URL)
	c.Site.CallbackPath = getEnv("SPREZZ_CALLBACK_PATH", c.Site.CallbackPath)
	c.Site.AdminEmail = getEnv("SPREZZ_ADMIN_EMAIL", c.Site.AdminEmail)
	c.Site.KeyPath = getEnv("SPREZZ_SITE_KEY_PATH", c.Site.KeyPath)
	c.Server.Address = getEnv("SPREZZ_SERVER_ADDRESS", c.Server.Address)
	c.Store.Driver = StoreDriver(getEnv("SPREZZ_STORE_DRIVER", string(c.Store.Driver)))
	c.Store.DSN = getEnv("SPREZZ_STORE_DSN", c.Store.DSN)
	c.Queue.Driver = QueueDriver(getEnv("SPREZZ_QUEUE_DRIVER", string(c.Queue.Driver)))
	c.Queue.RedisAddr = getEnv("SPREZZ_REDIS_ADDR", c.Queue.RedisAddr)
	c.Log.Level = getEnv("SPREZZ_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("SPREZZ_NETWORK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SPREZZ_NETWORK_TIMEOUT: %w", err)
		}
		c.Network.Timeout = Duration(d)
	}
	if v := os.Getenv("SPREZZ_KEY_BITS"); v != "" {
		bits, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SPREZZ_KEY_BITS: %w", err)
		}
		c.Keys.Bits = bits
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Site.URL = strings.TrimRight(c.Site.URL, "/")
	if c.Site.CallbackPath == "" {
		c.Site.CallbackPath = DefaultCallbackPath
	}
	if !strings.HasPrefix(c.Site.CallbackPath, "/") {
		c.Site.CallbackPath = "/" + c.Site.CallbackPath
	}
	if c.Site.RegisterPolicy == "" {
		c.Site.RegisterPolicy = DefaultRegisterPolicy
	}
	if c.Site.AccessPolicy == "" {
		c.Site.AccessPolicy = DefaultAccessPolicy
	}
	if c.Site.DirectoryMode == "" {
		c.Site.DirectoryMode = DefaultDirectoryMode
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Network.Timeout <= 0 {
		c.Network.Timeout = Duration(DefaultNetworkTimeout)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.TTL <= 0 {
		c.Queue.TTL = Duration(DefaultQueueTTL)
	}
	if c.Keys.Bits <= 0 {
		c.Keys.Bits = DefaultKeyBits
	}
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.Site.URL == "" {
		return fmt.Errorf("site.url is required")
	}
	u, err := url.Parse(c.Site.URL)
	if err != nil {
		return fmt.Errorf("invalid site.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("site.url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("site.url has no host")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Keys.Bits < 2048 {
		return fmt.Errorf("keys.bits must be at least 2048, got %d", c.Keys.Bits)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
