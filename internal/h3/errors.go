package h3

import (
	"fmt"
	"strings"
)

// ErrorCode represents an HTTP/3 error code carried on a stream reset.
type ErrorCode uint64

// HTTP/3 error codes from RFC 9114 Section 8.1.
const (
	// ErrCodeNoError (0x100): No error, graceful termination.
	ErrCodeNoError ErrorCode = 0x100
	// ErrCodeGeneralProtocolError (0x101): Peer violated protocol requirements.
	ErrCodeGeneralProtocolError ErrorCode = 0x101
	// ErrCodeInternalError (0x102): Internal fault in this endpoint.
	ErrCodeInternalError ErrorCode = 0x102
	// ErrCodeStreamCreationError (0x103): Stream opened that is not permitted.
	ErrCodeStreamCreationError ErrorCode = 0x103
	// ErrCodeClosedCriticalStream (0x104): Required stream was closed.
	ErrCodeClosedCriticalStream ErrorCode = 0x104
	// ErrCodeFrameUnexpected (0x105): Frame not permitted in current state.
	ErrCodeFrameUnexpected ErrorCode = 0x105
	// ErrCodeFrameError (0x106): Frame violated layout or size rules.
	ErrCodeFrameError ErrorCode = 0x106
	// ErrCodeExcessiveLoad (0x107): Peer exhibiting behavior causing excessive load.
	ErrCodeExcessiveLoad ErrorCode = 0x107
	// ErrCodeIDError (0x108): Stream or push ID used incorrectly.
	ErrCodeIDError ErrorCode = 0x108
	// ErrCodeSettingsError (0x109): Settings frame payload invalid.
	ErrCodeSettingsError ErrorCode = 0x109
	// ErrCodeMissingSettings (0x10a): No settings frame received.
	ErrCodeMissingSettings ErrorCode = 0x10a
	// ErrCodeRequestRejected (0x10b): Request not processed at all.
	ErrCodeRequestRejected ErrorCode = 0x10b
	// ErrCodeRequestCancelled (0x10c): Request or response cancelled.
	ErrCodeRequestCancelled ErrorCode = 0x10c
	// ErrCodeRequestIncomplete (0x10d): Stream terminated before a full request.
	ErrCodeRequestIncomplete ErrorCode = 0x10d
	// ErrCodeMessageError (0x10e): Malformed request or response message.
	ErrCodeMessageError ErrorCode = 0x10e
	// ErrCodeConnectError (0x10f): TCP connection for a CONNECT request failed.
	ErrCodeConnectError ErrorCode = 0x10f
	// ErrCodeVersionFallback (0x110): Retry over an earlier HTTP version.
	ErrCodeVersionFallback ErrorCode = 0x110
)

// String returns the string representation of the ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeNoError:
		return "H3_NO_ERROR"
	case ErrCodeGeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case ErrCodeInternalError:
		return "H3_INTERNAL_ERROR"
	case ErrCodeStreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case ErrCodeClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case ErrCodeFrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case ErrCodeFrameError:
		return "H3_FRAME_ERROR"
	case ErrCodeExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case ErrCodeIDError:
		return "H3_ID_ERROR"
	case ErrCodeSettingsError:
		return "H3_SETTINGS_ERROR"
	case ErrCodeMissingSettings:
		return "H3_MISSING_SETTINGS"
	case ErrCodeRequestRejected:
		return "H3_REQUEST_REJECTED"
	case ErrCodeRequestCancelled:
		return "H3_REQUEST_CANCELLED"
	case ErrCodeRequestIncomplete:
		return "H3_REQUEST_INCOMPLETE"
	case ErrCodeMessageError:
		return "H3_MESSAGE_ERROR"
	case ErrCodeConnectError:
		return "H3_CONNECT_ERROR"
	case ErrCodeVersionFallback:
		return "H3_VERSION_FALLBACK"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_0x%x", uint64(e))
	}
}

// StreamError represents an error scoped to a single request stream.
// It implements the standard Go error interface.
type StreamError struct {
	StreamID uint64
	Code     ErrorCode
	Msg      string
	Cause    error // Optional underlying cause
}

// Error returns a string representation of the StreamError.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error on stream %d: %s (code %s, 0x%x): %s", e.StreamID, e.Msg, e.Code.String(), uint64(e.Code), e.Cause)
	}
	return fmt.Sprintf("stream error on stream %d: %s (code %s, 0x%x)", e.StreamID, e.Msg, e.Code.String(), uint64(e.Code))
}

// Unwrap returns the underlying cause of the error, if any.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewStreamError creates a new StreamError.
func NewStreamError(streamID uint64, code ErrorCode, msg string) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg}
}

// NewStreamErrorWithCause creates a new StreamError with an underlying cause.
func NewStreamErrorWithCause(streamID uint64, code ErrorCode, msg string, cause error) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg, Cause: cause}
}

// The detail messages below are part of the engine's observable contract:
// clients and conformance suites match on them, so their wording is fixed
// here and nowhere else.

func detailInvalidMethod(method string) string {
	return fmt.Sprintf("malformed request: invalid method %q", method)
}

func detailSchemeMismatch(got, want string) string {
	return fmt.Sprintf("request :scheme %q does not match the connection scheme %q", got, want)
}

func detailConnectViolation() string {
	return "CONNECT requests must not send :scheme or :path"
}

func detailMultipleHosts(values []string) string {
	return fmt.Sprintf("request contains multiple Host headers: %s", strings.Join(values, ", "))
}

func detailInvalidAuthority(value string) string {
	return fmt.Sprintf("invalid authority or Host header: %q", value)
}

func detailRequestLineTooLong() string {
	return "request line too long"
}

func detailFieldTooLarge(name string) string {
	return fmt.Sprintf("header field %q exceeds the configured size limit", name)
}

func detailBodyShort(declared int64) string {
	return fmt.Sprintf("request body ended before the declared content-length of %d bytes was received", declared)
}

func detailBodyOverrun(declared int64) string {
	return fmt.Sprintf("request body exceeds the declared content-length of %d bytes", declared)
}

func detailDataAfterEnd() string {
	return "data received after end of request body"
}

func detailAppReset(code uint64) string {
	return fmt.Sprintf("application reset the stream with code %d", code)
}
