package xrelay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Builder constructs Coordinator and Leaf instances (Builder pattern). Each
// build gets its own emitter and, unless one is supplied, its own Marshaller.
type Builder struct {
	id       ProcessID
	upstream Channel

	codecName string
	codecInst Codec

	marshaller *Marshaller
	typeCodecs []typeEntry

	subordinates []Channel
	echoUp       bool
	echoDown     bool
	join         bool

	observers   []Observer
	poolWorkers int
	poolBuffer  int
	logger      *xlog.Logger
	clock       xclock.Clock
	sendTimeout time.Duration
}

// NewBuilder returns a new builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{
		codecName:   "json",
		sendTimeout: 5 * time.Second,
	}
}

// WithID sets this process's identity. A random UUID is used otherwise.
func (bb *Builder) WithID(id ProcessID) *Builder {
	bb.id = id
	return bb
}

// WithUpstream sets the channel to the parent process.
func (bb *Builder) WithUpstream(ch Channel) *Builder {
	bb.upstream = ch
	return bb
}

func (bb *Builder) WithCodec(name string) *Builder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready wire Codec.
func (bb *Builder) WithCodecInstance(c Codec) *Builder {
	bb.codecInst = c
	return bb
}

// WithMarshaller shares m with the built relay. Relays built without it get
// a fresh Marshaller holding the error codec.
func (bb *Builder) WithMarshaller(m *Marshaller) *Builder {
	bb.marshaller = m
	return bb
}

// WithTypeCodec registers an extra type codec, after the built-in ones.
func (bb *Builder) WithTypeCodec(tag string, c TypeCodec) *Builder {
	bb.typeCodecs = append(bb.typeCodecs, typeEntry{tag: tag, codec: c})
	return bb
}

// WithSubordinates attaches channels to the built coordinator.
func (bb *Builder) WithSubordinates(chs ...Channel) *Builder {
	bb.subordinates = append(bb.subordinates, chs...)
	return bb
}

// WithEchoUp enables upward echo on the built coordinator.
func (bb *Builder) WithEchoUp() *Builder {
	bb.echoUp = true
	return bb
}

// WithEchoDown enables downward echo on the built coordinator.
func (bb *Builder) WithEchoDown() *Builder {
	bb.echoDown = true
	return bb
}

// WithJoin makes the built coordinator a member of its parent's tree as
// well (see Coordinator.Join).
func (bb *Builder) WithJoin() *Builder {
	bb.join = true
	return bb
}

func (bb *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithAsyncObservers dispatches observer events on a pool of workers
// instead of the relaying goroutine. Events that do not fit in the buffer
// are dropped and counted in Metrics.ObserverDropped.
func (bb *Builder) WithAsyncObservers(workers, bufferSize int) *Builder {
	if workers < 1 {
		workers = 4
	}
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

func (bb *Builder) WithLogger(l *xlog.Logger) *Builder {
	bb.logger = l
	return bb
}

func (bb *Builder) WithClock(c xclock.Clock) *Builder {
	bb.clock = c
	return bb
}

// WithSendTimeout bounds each channel send (default: 5s).
func (bb *Builder) WithSendTimeout(d time.Duration) *Builder {
	if d > 0 {
		bb.sendTimeout = d
	}
	return bb
}

func (bb *Builder) buildRelay() (*relay, error) {
	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		var err error
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	m := bb.marshaller
	if m == nil {
		m = NewMarshaller()
	}
	for _, e := range bb.typeCodecs {
		if err := m.Register(e.tag, e.codec); err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	id := bb.id
	if id == "" {
		id = ProcessID(uuid.NewString())
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &relay{
		self:        id,
		emitter:     NewEmitter(lg),
		marshaller:  m,
		codec:       cd,
		clock:       clk,
		logger:      lg,
		sendTimeout: bb.sendTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
	if bb.poolWorkers > 0 {
		r.pool = NewObserverPool(bb.poolWorkers, bb.poolBuffer, lg)
	}

	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		r.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		r.AddObserver(o)
	}
	return r, nil
}

// BuildCoordinator builds a coordinator, attaches the configured
// subordinates and applies the echo settings.
func (bb *Builder) BuildCoordinator() (*Coordinator, error) {
	r, err := bb.buildRelay()
	if err != nil {
		return nil, err
	}
	c := &Coordinator{relay: r, upstream: bb.upstream}
	c.subs = newSubordinates(c.handleSubordinate)

	if bb.echoUp {
		if err := c.EchoUp(); err != nil {
			r.cancel()
			_ = r.closePool()
			return nil, err
		}
	}
	if bb.echoDown {
		if err := c.EchoDown(); err != nil {
			r.cancel()
			_ = r.closePool()
			return nil, err
		}
	}
	if bb.join {
		if err := c.Join(); err != nil {
			c.StopEchoDown()
			r.cancel()
			_ = r.closePool()
			return nil, err
		}
	}
	c.Attach(bb.subordinates...)
	return c, nil
}

// BuildLeaf builds a leaf and starts listening to its upstream channel.
func (bb *Builder) BuildLeaf() (*Leaf, error) {
	if bb.upstream == nil {
		return nil, ErrNoUpstream
	}
	r, err := bb.buildRelay()
	if err != nil {
		return nil, err
	}
	l := &Leaf{relay: r, upstream: bb.upstream}
	if err := l.listen(); err != nil {
		r.cancel()
		_ = r.closePool()
		return nil, err
	}
	return l, nil
}

// NewCoordinator builds a coordinator via Builder.
func NewCoordinator(init func(b *Builder)) (*Coordinator, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	return b.BuildCoordinator()
}

// NewLeaf builds a leaf via Builder.
func NewLeaf(init func(b *Builder)) (*Leaf, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	return b.BuildLeaf()
}
