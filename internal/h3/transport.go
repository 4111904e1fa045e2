package h3

import "golang.org/x/net/http2/hpack"

// StreamTransport is the engine's view of one bidirectional request stream
// on the multiplexed transport. The transport owns framing and header
// compression; the engine hands it decoded field lists and raw body bytes.
//
// Calls on a single stream's transport are serialized by the engine. A
// transport implementation must not call back into the stream.
type StreamTransport interface {
	// SendHeaders emits the response header block.
	SendHeaders(fields []hpack.HeaderField) error

	// SendData emits one response body chunk.
	SendData(p []byte) (int, error)

	// SendTrailers emits the trailer block. The engine always follows it
	// with EndStream.
	SendTrailers(fields []hpack.HeaderField) error

	// EndStream signals end-of-stream for the response direction.
	EndStream() error

	// ResetStream aborts the stream with the given code. After this call
	// the engine makes no further calls for the stream.
	ResetStream(code ErrorCode) error
}
