package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/trickstertwo/xrelay/adapter/redischan"
)

const (
	transportRedis     = "redis"
	transportWebSocket = "websocket"
)

// nodeConfig describes one relay process.
type nodeConfig struct {
	ID        string
	Transport string
	Codec     string

	Parent    string
	ParentURL string
	Children  []string
	Listen    string

	EchoUp   bool
	EchoDown bool

	Emit        string
	Interval    time.Duration
	SendTimeout time.Duration

	Redis redischan.Config
}

func defaultNodeConfig() nodeConfig {
	return nodeConfig{
		Transport:   transportRedis,
		Codec:       "json",
		Children:    []string{},
		Listen:      ":7800",
		Interval:    time.Second,
		SendTimeout: 5 * time.Second,
		Redis:       redischan.Defaults(),
	}
}

type fileConfig struct {
	ID          string          `toml:"id"`
	Transport   string          `toml:"transport"`
	Codec       string          `toml:"codec"`
	Parent      string          `toml:"parent"`
	ParentURL   string          `toml:"parent_url"`
	Children    []string        `toml:"children"`
	Listen      string          `toml:"listen"`
	EchoUp      bool            `toml:"echo_up"`
	EchoDown    bool            `toml:"echo_down"`
	Emit        string          `toml:"emit"`
	Interval    string          `toml:"interval"`
	SendTimeout string          `toml:"send_timeout"`
	Redis       fileRedisConfig `toml:"redis"`
}

type fileRedisConfig struct {
	Addr          string `toml:"addr"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	TLS           bool   `toml:"tls"`
	TLSServerName string `toml:"tls_server_name"`
	Prefix        string `toml:"prefix"`
}

// loadNodeConfig reads path over the defaults. Keys absent from the file
// keep their default.
func loadNodeConfig(path string) (nodeConfig, error) {
	cfg := defaultNodeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nodeConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("parent") {
		cfg.Parent = strings.TrimSpace(raw.Parent)
	}
	if meta.IsDefined("parent_url") {
		cfg.ParentURL = strings.TrimSpace(raw.ParentURL)
	}
	if meta.IsDefined("children") {
		cfg.Children = normalizeIDs(raw.Children)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("echo_up") {
		cfg.EchoUp = raw.EchoUp
	}
	if meta.IsDefined("echo_down") {
		cfg.EchoDown = raw.EchoDown
	}
	if meta.IsDefined("emit") {
		cfg.Emit = strings.TrimSpace(raw.Emit)
	}
	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return nodeConfig{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if meta.IsDefined("send_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SendTimeout))
		if err != nil {
			return nodeConfig{}, fmt.Errorf("parse send_timeout: %w", err)
		}
		cfg.SendTimeout = d
	}

	if meta.IsDefined("redis", "addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Redis.Addr)
	}
	if meta.IsDefined("redis", "username") {
		cfg.Redis.Username = raw.Redis.Username
	}
	if meta.IsDefined("redis", "password") {
		cfg.Redis.Password = raw.Redis.Password
	}
	if meta.IsDefined("redis", "db") {
		cfg.Redis.DB = raw.Redis.DB
	}
	if meta.IsDefined("redis", "tls") {
		cfg.Redis.TLS = raw.Redis.TLS
	}
	if meta.IsDefined("redis", "tls_server_name") {
		cfg.Redis.TLSServerName = strings.TrimSpace(raw.Redis.TLSServerName)
	}
	if meta.IsDefined("redis", "prefix") {
		cfg.Redis.Prefix = strings.TrimSpace(raw.Redis.Prefix)
	}

	return cfg, nil
}

// validate checks cfg for role ("coordinator" or "leaf").
func (c nodeConfig) validate(role string) error {
	switch c.Transport {
	case transportRedis:
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	case transportWebSocket:
		if c.Parent != "" && c.ParentURL == "" {
			return fmt.Errorf("config: parent_url required for a websocket parent")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if role == roleLeaf && c.Parent == "" && c.ParentURL == "" {
		return fmt.Errorf("config: a leaf needs a parent")
	}
	if role == roleLeaf && len(c.Children) > 0 {
		return fmt.Errorf("config: a leaf takes no children")
	}
	if (c.EchoUp || c.EchoDown) && c.Parent == "" && c.ParentURL == "" {
		return fmt.Errorf("config: echo needs a parent")
	}
	if c.Emit != "" && c.Interval <= 0 {
		return fmt.Errorf("config: interval must be > 0, got %v", c.Interval)
	}
	for _, child := range c.Children {
		if child == c.ID {
			return fmt.Errorf("config: %q cannot be its own child", child)
		}
	}
	return nil
}

func normalizeIDs(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		v := strings.TrimSpace(id)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
