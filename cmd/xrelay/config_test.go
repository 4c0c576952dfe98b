package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, `
id = " mid "
codec = "cbor"
parent = "root"
children = ["w1", " w2 ", "", "w1"]
echo_up = true
emit = "tick"
interval = "250ms"
send_timeout = "2s"

[redis]
addr = "redis:6380"
db = 1
prefix = "tree"
`)
	cfg, err := loadNodeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mid", cfg.ID)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, "root", cfg.Parent)
	assert.Equal(t, []string{"w1", "w2"}, cfg.Children)
	assert.True(t, cfg.EchoUp)
	assert.False(t, cfg.EchoDown)
	assert.Equal(t, "tick", cfg.Emit)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "tree", cfg.Redis.Prefix)

	// undefined keys keep defaults
	assert.Equal(t, transportRedis, cfg.Transport)
	assert.Equal(t, ":7800", cfg.Listen)
	require.NoError(t, cfg.validate(roleCoordinator))
}

func TestLoadNodeConfig_Errors(t *testing.T) {
	_, err := loadNodeConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = loadNodeConfig(writeConfig(t, `interval = "soon"`))
	require.Error(t, err)

	_, err = loadNodeConfig(writeConfig(t, `id = [`))
	require.Error(t, err)
}

func TestNodeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		mutate  func(*nodeConfig)
		wantErr bool
	}{
		{"root coordinator", roleCoordinator, func(c *nodeConfig) {}, false},
		{"leaf with parent", roleLeaf, func(c *nodeConfig) { c.Parent = "root" }, false},
		{"leaf without parent", roleLeaf, func(c *nodeConfig) {}, true},
		{"leaf with children", roleLeaf, func(c *nodeConfig) { c.Parent = "root"; c.Children = []string{"x"} }, true},
		{"echo without parent", roleCoordinator, func(c *nodeConfig) { c.EchoDown = true }, true},
		{"own child", roleCoordinator, func(c *nodeConfig) { c.Children = []string{"n1"} }, true},
		{"unknown transport", roleCoordinator, func(c *nodeConfig) { c.Transport = "carrier-pigeon" }, true},
		{"websocket parent needs url", roleLeaf, func(c *nodeConfig) { c.Transport = transportWebSocket; c.Parent = "root" }, true},
		{"websocket leaf", roleLeaf, func(c *nodeConfig) { c.Transport = transportWebSocket; c.ParentURL = "ws://root/relay" }, false},
		{"emit without interval", roleCoordinator, func(c *nodeConfig) { c.Emit = "tick"; c.Interval = 0 }, true},
		{"bad redis", roleCoordinator, func(c *nodeConfig) { c.Redis.Addr = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultNodeConfig()
			cfg.ID = "n1"
			tt.mutate(&cfg)
			err := cfg.validate(tt.role)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
id = "from-file"
parent = "root"
codec = "cbor"
`)
	require.NoError(t, leafCmd.ParseFlags([]string{
		"--config", path,
		"--id", "from-flag",
		"--interval", "3s",
	}))

	cfg, err := resolveConfig(leafCmd, roleLeaf)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.ID)
	assert.Equal(t, "root", cfg.Parent)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.Interval)
}

func TestNormalizeIDs(t *testing.T) {
	assert.Equal(t, []string{}, normalizeIDs(nil))
	assert.Equal(t, []string{"a", "b"}, normalizeIDs([]string{" a", "b", "a ", " "}))
}
