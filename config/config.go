// Package config holds the broker endpoint and topology settings the
// RPC components require. Fields are typically loaded from a YAML file
// but can be filled in directly.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Default broker settings applied by ApplyDefaults.
const (
	DefaultPort         = 5672
	DefaultVHost        = "/"
	DefaultExchangeKind = "topic"
)

// Exchange names the routing node shared by all publishers and
// consumers using the same routing scheme. Name and kind are fixed by
// configuration and must match between client and server.
type Exchange struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Config describes a reachable broker endpoint plus the exchange used
// for RPC routing.
type Config struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	VHost    string   `yaml:"vhost"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Exchange Exchange `yaml:"exchange"`
}

// Load reads a YAML config file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.VHost == "" {
		c.VHost = DefaultVHost
	}
	if c.Exchange.Kind == "" {
		c.Exchange.Kind = DefaultExchangeKind
	}
}

// Validate checks the fields the broker connection depends on.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must be set")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange name must be set")
	}
	switch c.Exchange.Kind {
	case "topic", "direct", "fanout", "headers":
	default:
		return fmt.Errorf("unknown exchange kind %q", c.Exchange.Kind)
	}
	return nil
}

// URL assembles the amqp:// connection URL with escaped credentials.
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	// The default vhost "/" is addressed by an empty URI path.
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + url.PathEscape(c.VHost)
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// Redacted returns the connection URL with the password masked, for
// logging.
func (c *Config) Redacted() string {
	masked := *c
	if masked.Password != "" {
		masked.Password = "xxxxx"
	}
	return masked.URL()
}
