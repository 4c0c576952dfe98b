package xrelay

import (
	"errors"
	"sync"
)

// ChannelFactory constructs a Channel from a config blob. Adapters register
// one under their name in init.
type ChannelFactory func(cfg map[string]any) (Channel, error)

var (
	channelRegistryMu sync.RWMutex
	channelRegistry   = map[string]ChannelFactory{}
)

// RegisterChannel registers a channel adapter.
func RegisterChannel(name string, factory ChannelFactory) error {
	if name == "" {
		return errors.New("channel name must not be empty")
	}
	if factory == nil {
		return errors.New("channel factory must not be nil")
	}
	channelRegistryMu.Lock()
	channelRegistry[name] = factory
	channelRegistryMu.Unlock()
	return nil
}

// NewChannel constructs a channel by adapter name with config.
func NewChannel(name string, cfg map[string]any) (Channel, error) {
	channelRegistryMu.RLock()
	f, ok := channelRegistry[name]
	channelRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownChannel{name: name}
	}
	return f(cfg)
}
