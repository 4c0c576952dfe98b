package xrelay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRegistry(t *testing.T) {
	require.NoError(t, RegisterChannel("fake", func(cfg map[string]any) (Channel, error) {
		id, _ := cfg["peer"].(string)
		return newFakeChannel(ProcessID(id)), nil
	}))

	ch, err := NewChannel("fake", map[string]any{"peer": "w1"})
	require.NoError(t, err)
	assert.Equal(t, ProcessID("w1"), ch.ID())

	_, err = NewChannel("carrier-pigeon", nil)
	var unknown ErrUnknownChannel
	require.True(t, errors.As(err, &unknown))
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestRegisterChannel_Validation(t *testing.T) {
	assert.Error(t, RegisterChannel("", func(map[string]any) (Channel, error) { return nil, nil }))
	assert.Error(t, RegisterChannel("x", nil))
}
