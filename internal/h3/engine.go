package h3

import (
	"context"

	"example.com/h3serve/internal/logger"
)

// Default validation bounds, applied when the configuration leaves them zero.
const (
	DefaultScheme             = "https"
	DefaultMaxFieldSize       = 16384
	DefaultMaxRequestLineSize = 8192
)

// Engine turns incoming request streams into application invocations. It is
// shared by every stream of a connection (and may be shared across
// connections); all per-request state lives on the Stream.
type Engine struct {
	limits Limits
	// fieldSizeHardAbort selects the response to a header field exceeding
	// the per-field size limit: true kills the stream with no
	// protocol-level message, false aborts with a descriptive detail.
	fieldSizeHardAbort bool
	log                *logger.Logger
	dispatch           RequestDispatcherFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates an Engine. Zero-valued limits are replaced with the
// defaults above. dispatch must not be nil.
func NewEngine(limits Limits, fieldSizeHardAbort bool, lg *logger.Logger, dispatch RequestDispatcherFunc) *Engine {
	if limits.Scheme == "" {
		limits.Scheme = DefaultScheme
	}
	if limits.MaxFieldSize == 0 {
		limits.MaxFieldSize = DefaultMaxFieldSize
	}
	if limits.MaxRequestLineSize == 0 {
		limits.MaxRequestLineSize = DefaultMaxRequestLineSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		limits:             limits,
		fieldSizeHardAbort: fieldSizeHardAbort,
		log:                lg,
		dispatch:           dispatch,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// NewStream registers a new incoming request stream with the engine. The
// transport calls this when the peer opens a stream, then feeds it with
// DeliverHeaders/DeliverData and reports peer resets via PeerAborted.
func (e *Engine) NewStream(id uint64, t StreamTransport) *Stream {
	ctx, cancel := context.WithCancel(e.ctx)
	return &Stream{
		id:        id,
		engine:    e,
		transport: t,
		state:     StreamStateIdle,
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

// Close cancels every stream context derived from this engine. Intended for
// connection teardown.
func (e *Engine) Close() {
	e.cancel()
}
