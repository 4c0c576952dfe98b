package xrelay

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload   = errors.New("xrelay: invalid payload")
	ErrInvalidEventName = errors.New("xrelay: event name must not be empty")
	ErrInvalidChannel   = errors.New("xrelay: channel must be non-nil and carry a process id")
	ErrNoUpstream       = errors.New("xrelay: relay has no upstream channel")
	ErrChannelClosed    = errors.New("xrelay: channel closed")
	ErrRelayClosed      = errors.New("xrelay: relay closed")

	ErrObserverPoolTimeout = errors.New("xrelay: observer pool shutdown timed out")
)

type ErrUnknownChannel struct{ name string }

func (e ErrUnknownChannel) Error() string { return fmt.Sprintf("unknown channel kind: %s", e.name) }

type ErrUnknownCodec struct{ name string }

func (e ErrUnknownCodec) Error() string { return fmt.Sprintf("codec %q not registered", e.name) }
