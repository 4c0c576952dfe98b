package xrelay

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Arg converts args[i] into T. Values that crossed the wire arrive as decoded
// primitives, slices and maps; they are converted with mapstructure using
// json field tags.
func Arg[T any](args []any, i int) (T, error) {
	var v T
	if i < 0 || i >= len(args) {
		return v, fmt.Errorf("xrelay: arg %d out of range (have %d)", i, len(args))
	}
	if t, ok := args[i].(T); ok {
		return t, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &v,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return v, err
	}
	if err := dec.Decode(args[i]); err != nil {
		return v, fmt.Errorf("xrelay: arg %d: %w", i, err)
	}
	return v, nil
}
