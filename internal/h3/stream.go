package h3

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"

	"example.com/h3serve/internal/logger"
	"golang.org/x/net/http2/hpack"
)

// StreamState represents the lifecycle state of one request stream.
type StreamState uint8

const (
	// StreamStateIdle indicates the stream exists but no header block has
	// been delivered yet.
	StreamStateIdle StreamState = iota

	// StreamStateHeadersReceiving indicates the request header block is
	// being processed.
	StreamStateHeadersReceiving

	// StreamStateHeaderValidationFailed indicates the header block was
	// rejected; the stream is aborted and never reaches the application.
	StreamStateHeaderValidationFailed

	// StreamStateActive indicates the request was validated and the
	// application handler has been invoked.
	StreamStateActive

	// StreamStateResponseHeadersSent indicates the response header block
	// has been emitted.
	StreamStateResponseHeadersSent

	// StreamStateDataSent indicates at least one response body chunk has
	// been emitted.
	StreamStateDataSent

	// StreamStateTrailersSent indicates the trailer block has been
	// emitted.
	StreamStateTrailersSent

	// StreamStateClosed indicates both directions completed normally.
	StreamStateClosed

	// StreamStateReset indicates the stream was aborted, by either side.
	StreamStateReset
)

// String returns a string representation of the StreamState.
func (s StreamState) String() string {
	switch s {
	case StreamStateIdle:
		return "idle"
	case StreamStateHeadersReceiving:
		return "headers-receiving"
	case StreamStateHeaderValidationFailed:
		return "header-validation-failed"
	case StreamStateActive:
		return "active"
	case StreamStateResponseHeadersSent:
		return "response-headers-sent"
	case StreamStateDataSent:
		return "data-sent"
	case StreamStateTrailersSent:
		return "trailers-sent"
	case StreamStateClosed:
		return "closed"
	case StreamStateReset:
		return "reset"
	default:
		return "unknown"
	}
}

var (
	_ StreamWriter   = (*Stream)(nil)
	_ TrailerCapable = (*Stream)(nil)
	_ ResetCapable   = (*Stream)(nil)
)

// Stream is one request stream: it owns the stream state, drives header
// validation, feeds the body framer, invokes the application handler and
// serializes response emission back onto the transport.
//
// All mutable state is guarded by mu. Transport calls are made with mu held,
// which is also what serializes response writes against each other.
type Stream struct {
	id        uint64
	engine    *Engine
	transport StreamTransport

	mu    sync.Mutex
	state StreamState

	reqLine *RequestLine
	req     *http.Request
	body    *bodyReader

	responseHeadersSent bool
	endStreamSent       bool
	requestEnded        bool
	stagedTrailers      []HeaderField

	// errorCode/errorDetail are set exactly once, when the stream aborts.
	errorCode   *ErrorCode
	errorDetail string

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint64 { return s.id }

// Context returns the stream's context.
func (s *Stream) Context() context.Context { return s.ctx }

// State returns the stream's current state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AbortError returns the error code and detail the stream aborted with, or
// (nil, "") if it has not aborted.
func (s *Stream) AbortError() (*ErrorCode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCode, s.errorDetail
}

func (s *Stream) log() *logger.Logger { return s.engine.log }

// DeliverHeaders processes a decoded header block for this stream. The first
// block is the request head; a later block on an active stream is the
// trailer section.
func (s *Stream) DeliverHeaders(fields []hpack.HeaderField, endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StreamStateIdle:
		return s.processRequestHeadersLocked(fields, endStream)
	case StreamStateReset, StreamStateClosed, StreamStateHeaderValidationFailed:
		return NewStreamError(s.id, ErrCodeFrameUnexpected, "header block on terminated stream")
	default:
		return s.processRequestTrailersLocked(fields, endStream)
	}
}

func (s *Stream) processRequestHeadersLocked(fields []hpack.HeaderField, endStream bool) error {
	s.state = StreamStateHeadersReceiving

	for _, hf := range fields {
		if uint32(hf.Size()) <= s.engine.limits.MaxFieldSize {
			continue
		}
		if s.engine.fieldSizeHardAbort {
			// Kill the stream below the message layer: the client
			// observes end-of-stream with no response and no detail.
			s.log().Warn("header field exceeds size limit, stream killed", logger.LogFields{
				"stream_id": s.id,
				"field":     hf.Name,
				"size":      hf.Size(),
				"limit":     s.engine.limits.MaxFieldSize,
			})
			code := ErrCodeRequestRejected
			s.errorCode = &code
			s.setStateLocked(StreamStateReset)
			_ = s.transport.ResetStream(code)
			s.cancelCtx()
			return NewStreamError(s.id, code, "header field too large")
		}
		return s.abortLocked(ErrCodeMessageError, detailFieldTooLarge(hf.Name))
	}

	rl, headers, rejErr := ValidateRequestHeaders(fields, s.engine.limits)
	if rejErr != nil {
		s.state = StreamStateHeaderValidationFailed
		return s.abortLocked(rejErr.Code, rejErr.Detail)
	}

	s.reqLine = rl
	s.body = newBodyReader(rl.ContentLength)
	s.req = s.buildRequestLocked(rl, headers)
	s.setStateLocked(StreamStateActive)

	if endStream {
		s.requestEnded = true
		if rej := s.body.push(nil, true); rej != nil {
			return s.abortLocked(rej.Code, rej.Detail)
		}
	}

	s.log().Debug("dispatching request", logger.LogFields{
		"stream_id": s.id,
		"method":    rl.Method,
		"target":    rl.RawTarget,
		"authority": rl.Authority,
	})
	go s.runHandler(s.req)
	return nil
}

func (s *Stream) processRequestTrailersLocked(fields []hpack.HeaderField, endStream bool) error {
	if s.requestEnded {
		return s.abortLocked(ErrCodeFrameUnexpected, "header block after end of request")
	}
	if !endStream {
		return s.abortLocked(ErrCodeMessageError, "trailer block must end the stream")
	}
	trailers := make(http.Header)
	for _, hf := range fields {
		if strings.HasPrefix(hf.Name, ":") {
			return s.abortLocked(ErrCodeMessageError, "trailers must not contain pseudo-header fields")
		}
		if strings.ContainsAny(hf.Name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			return s.abortLocked(ErrCodeMessageError, fmt.Sprintf("invalid header field name %q: field names must be lowercase", hf.Name))
		}
		trailers.Add(hf.Name, hf.Value)
	}

	// Populate before the body reports EOF: the handler may read Trailer
	// the moment its final Read returns.
	for k, vs := range trailers {
		s.req.Trailer[k] = vs
	}
	s.requestEnded = true
	if rej := s.body.push(nil, true); rej != nil {
		return s.abortLocked(rej.Code, rej.Detail)
	}
	s.maybeCloseLocked()
	return nil
}

// DeliverData processes one request data frame. The payload is appended to
// the body framer in arrival order; this call never blocks on the handler.
func (s *Stream) DeliverData(p []byte, endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StreamStateReset, StreamStateClosed:
		return nil // stream already terminated, frame ignored
	case StreamStateIdle, StreamStateHeadersReceiving, StreamStateHeaderValidationFailed:
		return s.abortLocked(ErrCodeFrameUnexpected, "data frame received before headers")
	}

	if endStream {
		s.requestEnded = true
	}
	if rej := s.body.push(p, endStream); rej != nil {
		return s.abortLocked(rej.Code, rej.Detail)
	}
	if endStream {
		s.maybeCloseLocked()
	}
	return nil
}

// PeerAborted records an abort initiated by the peer. No frames are emitted;
// in-flight handler reads and writes observe cancellation.
func (s *Stream) PeerAborted(code ErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return
	}
	s.log().Info("stream aborted by peer", logger.LogFields{
		"stream_id":  s.id,
		"error_code": code.String(),
	})
	if s.errorCode == nil {
		s.errorCode = &code
		s.errorDetail = fmt.Sprintf("stream aborted by peer with code %s", code.String())
	}
	s.setStateLocked(StreamStateReset)
	s.cancelCtx()
	if s.body != nil {
		s.body.fail(NewStreamError(s.id, code, "stream aborted by peer"))
	}
}

// abortLocked records the error code and detail once, moves to Reset,
// instructs the transport to terminate the stream, and cuts off any further
// emission. Requires s.mu.
func (s *Stream) abortLocked(code ErrorCode, detail string) error {
	if s.state == StreamStateReset {
		return NewStreamError(s.id, code, detail)
	}
	if s.errorCode == nil {
		c := code
		s.errorCode = &c
		s.errorDetail = detail
	}
	s.log().Info("aborting stream", logger.LogFields{
		"stream_id":  s.id,
		"error_code": code.String(),
		"detail":     detail,
	})
	s.setStateLocked(StreamStateReset)
	if err := s.transport.ResetStream(code); err != nil {
		s.log().Error("failed to reset stream on transport", logger.LogFields{
			"stream_id": s.id,
			"error":     err.Error(),
		})
	}
	s.cancelCtx()
	if s.body != nil {
		s.body.fail(NewStreamError(s.id, code, detail))
	}
	return NewStreamError(s.id, code, detail)
}

func (s *Stream) setStateLocked(newState StreamState) {
	if s.state == newState {
		return
	}
	oldState := s.state
	s.state = newState
	s.log().Debug("stream state changed", logger.LogFields{
		"stream_id": s.id,
		"old_state": oldState.String(),
		"new_state": newState.String(),
	})
}

func (s *Stream) maybeCloseLocked() {
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return
	}
	if s.endStreamSent && s.requestEnded {
		s.setStateLocked(StreamStateClosed)
		s.cancelCtx()
	}
}

func (s *Stream) buildRequestLocked(rl *RequestLine, headers http.Header) *http.Request {
	reqURL := &url.URL{
		Scheme:   rl.Scheme,
		Host:     rl.Authority,
		Path:     rl.Path,
		RawQuery: strings.TrimPrefix(rl.Query, "?"),
	}
	req := &http.Request{
		Method:        rl.Method,
		URL:           reqURL,
		Proto:         "HTTP/3.0",
		ProtoMajor:    3,
		ProtoMinor:    0,
		Header:        headers,
		Body:          s.body,
		ContentLength: rl.ContentLength,
		Host:          rl.Authority,
		RequestURI:    rl.RawTarget,
		Trailer:       make(http.Header),
	}
	return req.WithContext(s.ctx)
}

// runHandler invokes the application exactly once and flushes the response
// when it returns. A panic is converted per the failure contract: a generic
// 500 header-only response when headers are unsent (staged trailers
// suppressed), an abort otherwise.
func (s *Stream) runHandler(req *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("panic in stream handler", logger.LogFields{
				"stream_id": s.id,
				"panic_val": fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
			s.handlerFailed()
			return
		}
		s.finishResponse()
	}()
	s.engine.dispatch(s, req)
}

func (s *Stream) handlerFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return
	}
	if s.responseHeadersSent {
		_ = s.abortLocked(ErrCodeInternalError, "request handler failed after response headers were sent")
		return
	}
	// Trailers staged by the failed handler must never be emitted for a
	// response whose body was abandoned.
	s.stagedTrailers = nil
	if err := s.sendHeadersLocked([]HeaderField{{Name: ":status", Value: "500"}}, true); err != nil {
		_ = s.abortLocked(ErrCodeInternalError, "failed to send error response")
		return
	}
	s.maybeCloseLocked()
}

// finishResponse completes emission after the handler returns normally:
// implicit 200 if no headers were sent, staged trailers if any, then
// end-of-stream. Unread request body bytes are discarded without error.
func (s *Stream) finishResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamStateReset || s.state == StreamStateClosed || s.endStreamSent {
		return
	}
	if !s.responseHeadersSent {
		if err := s.sendHeadersLocked([]HeaderField{{Name: ":status", Value: "200"}}, false); err != nil {
			_ = s.abortLocked(ErrCodeInternalError, "failed to send response headers")
			return
		}
	}
	if err := s.closeResponseLocked(); err != nil {
		_ = s.abortLocked(ErrCodeInternalError, "failed to send response trailers")
		return
	}
	s.maybeCloseLocked()
}

// SendHeaders sends response headers. Implements StreamWriter.
func (s *Stream) SendHeaders(headers []HeaderField, endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sendHeadersLocked(headers, endStream)
	if err == nil {
		s.maybeCloseLocked()
	}
	return err
}

func (s *Stream) sendHeadersLocked(headers []HeaderField, endStream bool) error {
	if s.responseHeadersSent {
		return NewStreamError(s.id, ErrCodeInternalError, "headers already sent")
	}
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return NewStreamError(s.id, ErrCodeRequestCancelled, "stream closed or resetting")
	}

	fields := make([]hpack.HeaderField, len(headers))
	for i, hf := range headers {
		fields[i] = hpack.HeaderField{Name: strings.ToLower(hf.Name), Value: hf.Value}
	}
	fields, removed := FilterResponseHeaders(fields)
	if len(removed) > 0 {
		s.log().Info("removed connection-specific response headers", logger.LogFields{
			"stream_id": s.id,
			"removed":   FormatRemovedHeaders(removed),
		})
	}

	if err := s.transport.SendHeaders(fields); err != nil {
		return err
	}
	s.responseHeadersSent = true
	s.setStateLocked(StreamStateResponseHeadersSent)
	if endStream {
		return s.closeResponseLocked()
	}
	return nil
}

// WriteData sends a chunk of the response body. Implements StreamWriter.
func (s *Stream) WriteData(p []byte, endStream bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.responseHeadersSent {
		return 0, NewStreamError(s.id, ErrCodeInternalError, "SendHeaders must be called before WriteData")
	}
	if s.endStreamSent {
		return 0, NewStreamError(s.id, ErrCodeInternalError, "stream already ended by a previous write")
	}
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return 0, NewStreamError(s.id, ErrCodeRequestCancelled, "stream closed or resetting")
	}

	var n int
	if len(p) > 0 {
		var err error
		n, err = s.transport.SendData(p)
		if err != nil {
			return n, err
		}
		s.setStateLocked(StreamStateDataSent)
	}
	if endStream {
		if err := s.closeResponseLocked(); err != nil {
			return n, err
		}
		s.maybeCloseLocked()
	}
	return n, nil
}

// SetTrailers stages response trailers for emission when the response
// completes. Implements TrailerCapable.
func (s *Stream) SetTrailers(trailers []HeaderField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endStreamSent {
		return NewStreamError(s.id, ErrCodeInternalError, "cannot stage trailers after the response has ended")
	}
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return NewStreamError(s.id, ErrCodeRequestCancelled, "stream closed or resetting")
	}
	s.stagedTrailers = append([]HeaderField(nil), trailers...)
	return nil
}

// closeResponseLocked ends the response, flushing staged trailers first so
// they are never lost when the handler ends the stream through a write.
func (s *Stream) closeResponseLocked() error {
	if len(s.stagedTrailers) > 0 {
		trailers := s.stagedTrailers
		s.stagedTrailers = nil
		return s.sendTrailersLocked(trailers)
	}
	s.endStreamLocked()
	return nil
}

func (s *Stream) sendTrailersLocked(trailers []HeaderField) error {
	fields := make([]hpack.HeaderField, len(trailers))
	for i, hf := range trailers {
		fields[i] = hpack.HeaderField{Name: strings.ToLower(hf.Name), Value: hf.Value}
	}
	if err := s.transport.SendTrailers(fields); err != nil {
		return err
	}
	s.setStateLocked(StreamStateTrailersSent)
	s.endStreamLocked()
	return nil
}

func (s *Stream) endStreamLocked() {
	if s.endStreamSent {
		return
	}
	if err := s.transport.EndStream(); err != nil {
		s.log().Error("failed to end stream on transport", logger.LogFields{
			"stream_id": s.id,
			"error":     err.Error(),
		})
	}
	s.endStreamSent = true
}

// Reset aborts the stream with an application-supplied code, bypassing
// normal response emission. Implements ResetCapable.
func (s *Stream) Reset(code uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamStateReset || s.state == StreamStateClosed {
		return
	}
	_ = s.abortLocked(ErrorCode(code), detailAppReset(code))
}
