package redischan

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrelay"
)

// testConfig returns a Config for the Redis named by XRELAY_REDIS_ADDR, with
// a prefix unique to the test.
func testConfig(t *testing.T) Config {
	addr := os.Getenv("XRELAY_REDIS_ADDR")
	if addr == "" {
		t.Skip("XRELAY_REDIS_ADDR not set")
	}
	cfg := Defaults()
	cfg.Addr = addr
	cfg.Password = os.Getenv("XRELAY_REDIS_PASSWORD")
	cfg.Prefix = "xrelay-test-" + uuid.NewString()
	return cfg
}

func newClient(t *testing.T, cfg Config, self xrelay.ProcessID) *Client {
	cl, err := NewClient(cfg, self)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "127.0.0.1:6379", cfg.Addr)
	assert.Equal(t, "xrelay", cfg.Prefix)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"empty prefix", func(c *Config) { c.Prefix = "" }},
		{"glob prefix", func(c *Config) { c.Prefix = "xrelay*" }},
		{"negative db", func(c *Config) { c.DB = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":   "redis:6380",
		"db":     int64(2),
		"tls":    true,
		"prefix": "tree",
	})
	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.True(t, cfg.TLS)
	assert.Equal(t, "tree", cfg.Prefix)

	// missing and empty keys keep defaults
	cfg = ConfigFromMap(map[string]any{"addr": ""})
	assert.Equal(t, Defaults(), cfg)
}

func TestConfigFromMap_JSONNumbers(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"addr":"redis:6380","db":4}`), &m))

	cfg := ConfigFromMap(m)
	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 4, cfg.DB)
}

func TestConfig_ToMapRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Username = "relay"
	cfg.DB = 3
	cfg.TLSServerName = "redis.internal"
	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))
}

func TestLinkConfig(t *testing.T) {
	m := LinkConfig(Defaults(), "root", "w1")
	assert.Equal(t, "root", m["self"])
	assert.Equal(t, "w1", m["peer"])
	assert.Equal(t, "xrelay", m["prefix"])
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "xrelay:root>w1", Topic("xrelay", "root", "w1"))
	assert.NotEqual(t, Topic("p", "a", "b"), Topic("p", "b", "a"))
}

func TestFactory_RequiresEnds(t *testing.T) {
	_, err := xrelay.NewChannel(ChannelName, map[string]any{"self": "root"})
	require.Error(t, err)
}

func TestConn_SendAndSubscribe(t *testing.T) {
	cfg := testConfig(t)
	a := newClient(t, cfg, "a").Link("b")
	b := newClient(t, cfg, "b").Link("a")

	out, in := a.Topics()
	assert.Equal(t, Topic(cfg.Prefix, "a", "b"), out)
	assert.Equal(t, Topic(cfg.Prefix, "b", "a"), in)

	got := make(chan string, 1)
	sub, err := b.Subscribe(func(msg []byte) { got <- string(msg) })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, a.Send(context.Background(), []byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, uint64(1), a.Stats().Published)
	assert.Equal(t, 1, b.Stats().Subscribers)
}

func TestConn_SendAfterClose(t *testing.T) {
	cfg := testConfig(t)
	a := newClient(t, cfg, "a").Link("b")
	require.NoError(t, a.Close())

	err := a.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, xrelay.ErrChannelClosed)
	assert.Equal(t, uint64(1), a.Stats().PublishErrors)
}

func TestRelay_LeafToCoordinator(t *testing.T) {
	cfg := testConfig(t)
	logger := xlog.New()

	root, err := Coordinator(newClient(t, cfg, "root"), "", []xrelay.ProcessID{"w1", "w2"}, WithLogger(logger))
	require.NoError(t, err)
	defer root.Close(context.Background())

	w1, err := Leaf(newClient(t, cfg, "w1"), "root", WithLogger(logger))
	require.NoError(t, err)
	defer w1.Close(context.Background())

	w2, err := Leaf(newClient(t, cfg, "w2"), "root", WithLogger(logger))
	require.NoError(t, err)
	defer w2.Close(context.Background())

	var atRoot, atW1, atW2 atomic.Int32
	root.On("tick", func(args ...any) { atRoot.Add(1) })
	w1.On("tick", func(args ...any) { atW1.Add(1) })
	w2.On("tick", func(args ...any) { atW2.Add(1) })

	require.NoError(t, w1.Emit(context.Background(), "tick"))

	require.Eventually(t, func() bool {
		return atRoot.Load() == 1 && atW2.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// w1 heard its own emit locally and must not get it back
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atW1.Load())
}

func TestLeaf_RequiresParent(t *testing.T) {
	_, err := Leaf(&Client{self: "w1"}, "")
	assert.ErrorIs(t, err, xrelay.ErrNoUpstream)
}
