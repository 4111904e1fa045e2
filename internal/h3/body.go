package h3

import (
	"io"
	"sync"
)

// BufferedBody is the buffered-read/advance view of a request body. The
// request body handed to handlers always implements it, sharing the same
// underlying accumulator as the plain Read calls.
type BufferedBody interface {
	// Buffered returns the number of bytes currently available without
	// blocking.
	Buffered() int
	// Peek blocks until n bytes are available and returns them without
	// consuming. If the body ends first, it returns what remains along
	// with io.EOF.
	Peek(n int) ([]byte, error)
	// Discard consumes up to n bytes, blocking for their arrival, and
	// returns the number discarded.
	Discard(n int) (int, error)
}

var (
	_ io.ReadCloser = (*bodyReader)(nil)
	_ BufferedBody  = (*bodyReader)(nil)
)

// bodyReader accumulates request data frames and exposes them to the
// application. Frames are appended in arrival order; appending never blocks
// so the transport's demultiplexing loop is never held up by a slow handler.
//
// When a content length is declared, the reader enforces it exactly: data
// past the boundary and an early end-of-stream are both protocol violations
// surfaced to the stream through the push path.
type bodyReader struct {
	readMu sync.Mutex // serializes Read/Peek/Discard callers

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	declared int64 // -1 when no content-length was declared
	received int64
	eos      bool  // end-of-stream delivered
	err      error // terminal error, wins over eos
	closed   bool  // handler closed the body; arriving bytes are discarded
}

func newBodyReader(declared int64) *bodyReader {
	b := &bodyReader{declared: declared}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends one data frame's payload. It returns a RequestRejectedError
// when the frame violates the declared content length, which the stream maps
// to an abort. endStream marks the final frame; it may arrive with an empty
// payload.
func (b *bodyReader) push(p []byte, endStream bool) *RequestRejectedError {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil // already failed; the stream is being torn down
	}
	if b.eos && (len(p) > 0 || !endStream) {
		return rejectMessage(detailDataAfterEnd())
	}

	b.received += int64(len(p))
	if b.declared >= 0 {
		if b.received > b.declared {
			return rejectMessage(detailBodyOverrun(b.declared))
		}
		if endStream && b.received < b.declared {
			b.eos = true
			return rejectMessage(detailBodyShort(b.declared))
		}
	}

	if len(p) > 0 && !b.closed {
		b.buf = append(b.buf, p...)
	}
	if endStream {
		b.eos = true
	}
	b.cond.Broadcast()
	return nil
}

// fail terminates the body with err, waking any blocked reader. Used when
// the stream aborts or the peer resets.
func (b *bodyReader) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// done reports, with b.mu held, whether no further payload bytes can arrive.
func (b *bodyReader) doneLocked() bool {
	return b.eos || (b.declared >= 0 && b.received >= b.declared)
}

func (b *bodyReader) Read(p []byte) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	for len(b.buf) == 0 && b.err == nil && !b.doneLocked() {
		b.cond.Wait()
	}
	if len(b.buf) > 0 {
		n := copy(p, b.buf)
		b.buf = b.buf[n:]
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	return 0, io.EOF
}

func (b *bodyReader) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *bodyReader) Peek(n int) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, io.ErrClosedPipe
	}
	for len(b.buf) < n && b.err == nil && !b.doneLocked() {
		b.cond.Wait()
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.buf) >= n {
		return b.buf[:n], nil
	}
	return b.buf, io.EOF
}

func (b *bodyReader) Discard(n int) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	discarded := 0
	for discarded < n {
		for len(b.buf) == 0 && b.err == nil && !b.doneLocked() {
			b.cond.Wait()
		}
		if len(b.buf) == 0 {
			if b.err != nil {
				return discarded, b.err
			}
			return discarded, io.EOF
		}
		take := n - discarded
		if take > len(b.buf) {
			take = len(b.buf)
		}
		b.buf = b.buf[take:]
		discarded += take
	}
	return discarded, nil
}

// Close releases the body from the handler's side. Bytes already buffered
// and any that arrive later are discarded without error.
func (b *bodyReader) Close() error {
	b.mu.Lock()
	b.closed = true
	b.buf = nil
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
