package h3

import (
	"context"
	"net/http"
)

// HeaderField represents a single HTTP header field (name-value pair).
// This is used by the StreamWriter interface.
type HeaderField struct {
	Name  string
	Value string
}

// StreamWriter defines the interface for handlers to write responses.
// It is implemented by a h3.Stream.
type StreamWriter interface {
	// SendHeaders sends response headers. Connection-specific fields are
	// stripped before emission. If endStream is true, this also signals
	// the end of the response body.
	SendHeaders(headers []HeaderField, endStream bool) error

	// WriteData sends a chunk of the response body.
	// If endStream is true, this is the final chunk.
	WriteData(p []byte, endStream bool) (n int, err error)

	// ID returns the stream's identifier.
	ID() uint64

	// Context returns the stream's context. It is cancelled when the
	// stream is aborted by either side.
	Context() context.Context
}

// The optional per-request capabilities form a fixed, enumerated set.
// Handlers discover them by type assertion on the StreamWriter (or, for
// BufferedBody, on the request body); no open-ended lookup exists.

// TrailerCapable is implemented by streams that can carry response trailers.
// Trailers are staged and emitted after the final body chunk when the
// response completes; staging after the response has ended is an error.
type TrailerCapable interface {
	SetTrailers(trailers []HeaderField) error
}

// ResetCapable is implemented by streams that support application-initiated
// resets. The code is forwarded to the peer verbatim and normal response
// emission is bypassed.
type ResetCapable interface {
	Reset(code uint64)
}

// RequestDispatcherFunc is the application entry point invoked exactly once
// per stream, in its own goroutine, after header validation succeeds.
type RequestDispatcherFunc func(sw StreamWriter, req *http.Request)
