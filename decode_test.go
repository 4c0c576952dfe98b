package xrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	OrderID   string  `json:"order_id"`
	AmountUSD float64 `json:"amount_usd"`
	Items     int     `json:"items"`
}

func TestArg_DirectType(t *testing.T) {
	s, err := Arg[string]([]any{"hello"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestArg_WireNumbers(t *testing.T) {
	n, err := Arg[int]([]any{float64(3)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestArg_Struct(t *testing.T) {
	args := []any{map[string]any{"order_id": "ord-1", "amount_usd": 12.5, "items": float64(2)}}
	o, err := Arg[order](args, 0)
	require.NoError(t, err)
	assert.Equal(t, order{OrderID: "ord-1", AmountUSD: 12.5, Items: 2}, o)
}

func TestArg_OutOfRange(t *testing.T) {
	_, err := Arg[string](nil, 0)
	assert.Error(t, err)
	_, err = Arg[string]([]any{"a"}, -1)
	assert.Error(t, err)
}

func TestArg_Incompatible(t *testing.T) {
	_, err := Arg[order]([]any{[]any{1, 2}}, 0)
	assert.Error(t, err)
}
