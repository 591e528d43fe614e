// Package config loads presence client settings from a toml file and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SocketPath is appended to the server URL to reach the websocket endpoint.
const SocketPath = "socket/websocket"

// Config holds application configuration.
type Config struct {
	Server   ServerConfig
	Account  AccountConfig
	Presence PresenceConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// ServerConfig holds connection settings.
type ServerConfig struct {
	URL       string
	Origin    string
	CertFile  string `mapstructure:"cert_file"`
	Pin       string
	Transport string
}

// AccountConfig identifies the local user.
type AccountConfig struct {
	UserID   string `mapstructure:"user_id"`
	Username string
	Email    string
}

// PresenceConfig tunes the protocol client.
type PresenceConfig struct {
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	MaxQueue          int           `mapstructure:"max_queue"`
	MonotonicRefs     bool          `mapstructure:"monotonic_refs"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds the prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string
}

// Load reads configuration from path (or PRESENCE_CONFIG when path is empty)
// and the environment. Env var overrides use prefix PRESENCE_.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.url", "wss://presence.usecanvas.com/")
	v.SetDefault("server.origin", "https://usecanvas.com")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.pin", "public_key")
	v.SetDefault("server.transport", "ws")
	v.SetDefault("account.user_id", "")
	v.SetDefault("account.username", "")
	v.SetDefault("account.email", "")
	v.SetDefault("presence.keepalive_interval", 20*time.Second)
	v.SetDefault("presence.write_timeout", 10*time.Second)
	v.SetDefault("presence.dial_timeout", 15*time.Second)
	v.SetDefault("presence.max_queue", 1024)
	v.SetDefault("presence.monotonic_refs", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", "")

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("PRESENCE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PRESENCE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the settings that have no usable default.
func (c Config) Validate() error {
	if _, err := c.SocketURL(); err != nil {
		return err
	}
	switch c.Server.Transport {
	case "ws", "gobwas":
	default:
		return fmt.Errorf("invalid server.transport %q: want ws or gobwas", c.Server.Transport)
	}
	if c.Presence.KeepaliveInterval <= 0 {
		return fmt.Errorf("invalid presence.keepalive_interval %s", c.Presence.KeepaliveInterval)
	}
	if c.Presence.MaxQueue < 0 {
		return fmt.Errorf("invalid presence.max_queue %d", c.Presence.MaxQueue)
	}
	return nil
}

// SocketURL returns the websocket endpoint under the server URL.
func (c Config) SocketURL() (string, error) {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server.url %q: scheme must be ws or wss", c.Server.URL)
	}
	return u.JoinPath(SocketPath).String(), nil
}
