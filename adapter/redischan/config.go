package redischan

import (
	"fmt"
	"strings"
)

// Config for the Redis Pub/Sub channel.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Prefix namespaces link topics so several trees can share a server.
	Prefix string
}

// Defaults returns a Config pointing at a local Redis.
func Defaults() Config {
	return Config{
		Addr:   "127.0.0.1:6379",
		DB:     0,
		TLS:    false,
		Prefix: "xrelay",
	}
}

// Validate checks Config.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("config: prefix required")
	}
	if strings.ContainsAny(c.Prefix, "*?[]") {
		return fmt.Errorf("config: prefix must not contain glob characters, got %q", c.Prefix)
	}
	if c.DB < 0 {
		return fmt.Errorf("config: db must be >= 0, got %d", c.DB)
	}
	return nil
}

// toMap converts Config to generic map for the channel factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"prefix":          c.Prefix,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	switch v := m["db"].(type) {
	case int:
		c.DB = v
	case int64:
		c.DB = int(v)
	case float64:
		c.DB = int(v)
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["prefix"].(string); ok && v != "" {
		c.Prefix = v
	}

	return c
}

// Topic names the Pub/Sub topic carrying messages from one process to another.
func Topic(prefix, from, to string) string {
	return prefix + ":" + from + ">" + to
}
