package xrelay

import (
	"fmt"
	"runtime/debug"

	"github.com/go-viper/mapstructure/v2"
)

// ErrorTag is the envelope tag of the built-in error codec.
const ErrorTag = "error"

// ErrorKind names the constructor of a kinded error.
type ErrorKind string

const (
	KindError          ErrorKind = "Error"
	KindTypeError      ErrorKind = "TypeError"
	KindRangeError     ErrorKind = "RangeError"
	KindReferenceError ErrorKind = "ReferenceError"
	KindSyntaxError    ErrorKind = "SyntaxError"
	KindURIError       ErrorKind = "URIError"
	KindEvalError      ErrorKind = "EvalError"
)

var knownKinds = map[ErrorKind]struct{}{
	KindError:          {},
	KindTypeError:      {},
	KindRangeError:     {},
	KindReferenceError: {},
	KindSyntaxError:    {},
	KindURIError:       {},
	KindEvalError:      {},
}

// Known reports whether k is one of the standard error kinds.
func (k ErrorKind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Error is an error with a kind, a display name and a captured stack.
// It is what the error codec reconstructs on the receiving side.
type Error struct {
	Kind    ErrorKind
	Name    string
	Message string
	Stack   string
}

// NewError creates an Error of kind with msg, capturing the current stack.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Name:    string(kind),
		Message: msg,
		Stack:   string(debug.Stack()),
	}
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// ErrorRecord is the wire form of an error.
type ErrorRecord struct {
	Constructor string `json:"constructor" cbor:"constructor" mapstructure:"constructor"`
	Name        string `json:"name" cbor:"name" mapstructure:"name"`
	Message     string `json:"message" cbor:"message" mapstructure:"message"`
	Stack       string `json:"stack" cbor:"stack" mapstructure:"stack"`
}

// ErrorCodec carries Go errors across the wire.
type ErrorCodec struct{}

var _ TypeCodec = ErrorCodec{}

func (ErrorCodec) Recognizes(v any) bool {
	err, ok := v.(error)
	return ok && err != nil
}

func (ErrorCodec) Encode(v any) any {
	switch e := v.(type) {
	case *Error:
		return ErrorRecord{
			Constructor: string(e.Kind),
			Name:        e.Name,
			Message:     e.Message,
			Stack:       e.Stack,
		}
	case error:
		rec := ErrorRecord{
			Constructor: string(KindError),
			Name:        fmt.Sprintf("%T", e),
			Message:     e.Error(),
		}
		if s, ok := e.(interface{ Stack() string }); ok {
			rec.Stack = s.Stack()
		}
		return rec
	}
	return v
}

// Decode rebuilds an *Error when the record names a known kind. Anything
// else is returned unchanged.
func (ErrorCodec) Decode(data any) any {
	var rec ErrorRecord
	switch d := data.(type) {
	case ErrorRecord:
		rec = d
	case *ErrorRecord:
		if d == nil {
			return data
		}
		rec = *d
	case map[string]any:
		if err := mapstructure.Decode(d, &rec); err != nil {
			return data
		}
	default:
		return data
	}

	kind := ErrorKind(rec.Constructor)
	if !kind.Known() {
		return data
	}
	return &Error{
		Kind:    kind,
		Name:    rec.Name,
		Message: rec.Message,
		Stack:   rec.Stack,
	}
}
