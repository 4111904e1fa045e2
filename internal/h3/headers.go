package h3

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// Limits carries the configured validation bounds for one listener.
type Limits struct {
	// Scheme is the scheme this listener terminates; non-CONNECT requests
	// must declare it verbatim in :scheme.
	Scheme string
	// MaxFieldSize bounds a single header field's encoded size
	// (name + value + 32, the HPACK/QPACK accounting rule).
	MaxFieldSize uint32
	// MaxRequestLineSize bounds the combined length of method, target,
	// scheme and authority.
	MaxRequestLineSize uint32
}

// RequestLine is the canonical request line produced by header validation.
// All fields are immutable once built.
type RequestLine struct {
	Method    string
	Scheme    string
	Authority string // effective host, possibly empty
	Path      string // decoded and normalized; empty for CONNECT and "*"
	RawTarget string // the :path value verbatim
	Query     string // raw query including leading '?', or empty

	// ContentLength is the declared request body length, or -1 when no
	// content-length header was present.
	ContentLength int64
}

// RequestRejectedError is the canonical mapping from a validation failure to
// the error code the stream aborts with and the human-readable detail.
type RequestRejectedError struct {
	Code   ErrorCode
	Detail string
}

func (e *RequestRejectedError) Error() string { return e.Detail }

func rejectMessage(detail string) *RequestRejectedError {
	return &RequestRejectedError{Code: ErrCodeMessageError, Detail: detail}
}

// ValidateRequestHeaders validates a decoded request header block and builds
// the canonical request line plus the regular header set. The Host field is
// merged into RequestLine.Authority and removed from the returned headers;
// all other duplicate fields are preserved in arrival order.
//
// Per-field size limits are intentionally not checked here: the stream layer
// enforces them before validation because the configured response to a
// violation may bypass the protocol-level message exchange entirely.
func ValidateRequestHeaders(fields []hpack.HeaderField, limits Limits) (*RequestLine, http.Header, *RequestRejectedError) {
	var (
		method, scheme, authority, target string
		hasPath, hasScheme, hasAuthority  bool
		hostValues                        []string
		seenPseudo                        = make(map[string]bool, 4)
		pseudoDone                        bool
	)

	headers := make(http.Header)

	for _, hf := range fields {
		if strings.ContainsAny(hf.Name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			return nil, nil, rejectMessage(fmt.Sprintf("invalid header field name %q: field names must be lowercase", hf.Name))
		}

		if strings.HasPrefix(hf.Name, ":") {
			if pseudoDone {
				return nil, nil, rejectMessage(fmt.Sprintf("pseudo-header %q found after regular header fields", hf.Name))
			}
			if seenPseudo[hf.Name] {
				return nil, nil, rejectMessage(fmt.Sprintf("duplicate pseudo-header %q", hf.Name))
			}
			seenPseudo[hf.Name] = true
			switch hf.Name {
			case ":method":
				method = hf.Value
			case ":path":
				target = hf.Value
				hasPath = true
			case ":scheme":
				scheme = hf.Value
				hasScheme = true
			case ":authority":
				authority = hf.Value
				hasAuthority = true
			default:
				return nil, nil, rejectMessage(fmt.Sprintf("unknown pseudo-header %q", hf.Name))
			}
			continue
		}
		pseudoDone = true

		switch hf.Name {
		case "connection", "proxy-connection", "keep-alive", "upgrade", "transfer-encoding":
			return nil, nil, rejectMessage(fmt.Sprintf("connection-specific header field %q is not permitted", hf.Name))
		case "te":
			if strings.ToLower(hf.Value) != "trailers" {
				return nil, nil, rejectMessage(fmt.Sprintf("te header field value %q is not permitted, only \"trailers\"", hf.Value))
			}
		case "host":
			hostValues = append(hostValues, hf.Value)
			continue // merged into the authority below
		}
		headers.Add(hf.Name, hf.Value)
	}

	if method == "" || !isValidToken(method) {
		return nil, nil, rejectMessage(detailInvalidMethod(method))
	}

	isConnect := method == http.MethodConnect
	if isConnect {
		if hasPath || hasScheme {
			return nil, nil, rejectMessage(detailConnectViolation())
		}
	} else {
		if scheme != limits.Scheme {
			return nil, nil, rejectMessage(detailSchemeMismatch(scheme, limits.Scheme))
		}
		if !hasPath || target == "" || (target[0] != '/' && target != "*") {
			return nil, nil, rejectMessage(fmt.Sprintf("malformed request: invalid path %q", target))
		}
	}

	if len(hostValues) > 1 {
		return nil, nil, rejectMessage(detailMultipleHosts(hostValues))
	}

	// A non-empty :authority wins; an empty one is treated as absent so the
	// Host field, if any, supplies the effective host.
	host := authority
	if !hasAuthority || authority == "" {
		host = ""
		if len(hostValues) == 1 {
			host = hostValues[0]
		}
	}
	if host != "" && !isValidHost(host) {
		return nil, nil, rejectMessage(detailInvalidAuthority(host))
	}

	if uint32(len(method)+len(target)+len(scheme)+len(authority)) > limits.MaxRequestLineSize {
		return nil, nil, rejectMessage(detailRequestLineTooLong())
	}

	contentLength, rejErr := parseContentLength(headers)
	if rejErr != nil {
		return nil, nil, rejErr
	}

	rl := &RequestLine{
		Method:        method,
		Scheme:        scheme,
		Authority:     host,
		RawTarget:     target,
		ContentLength: contentLength,
	}
	if !isConnect {
		rl.Path, rl.Query = NormalizeTarget(target)
	}
	return rl, headers, nil
}

func parseContentLength(headers http.Header) (int64, *RequestRejectedError) {
	values := headers.Values("content-length")
	switch len(values) {
	case 0:
		return -1, nil
	case 1:
	default:
		return 0, rejectMessage("malformed request: multiple content-length headers")
	}
	n, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil || n < 0 {
		return 0, rejectMessage(fmt.Sprintf("malformed request: invalid content-length %q", values[0]))
	}
	return n, nil
}

// isValidToken reports whether s is a valid HTTP token per RFC 9110
// section 5.6.2 (tchar only, non-empty).
func isValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// isValidHost reports whether h is a syntactically valid host[:port] token:
// a reg-name or IPv4 literal, or a bracketed IPv6 literal, optionally
// followed by a decimal port.
func isValidHost(h string) bool {
	if h == "" {
		return true
	}
	host := h
	if h[0] == '[' {
		end := strings.IndexByte(h, ']')
		if end < 0 {
			return false
		}
		for i := 1; i < end; i++ {
			c := h[i]
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == ':' || c == '.') {
				return false
			}
		}
		rest := h[end+1:]
		if rest == "" {
			return true
		}
		return validPort(rest)
	}
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		if !validPort(h[i:]) {
			return false
		}
		host = h[:i]
	}
	if host == "" {
		return false
	}
	for i := 0; i < len(host); i++ {
		if !isRegNameChar(host[i]) {
			return false
		}
	}
	return true
}

func validPort(p string) bool {
	if len(p) < 2 || p[0] != ':' {
		return false
	}
	for i := 1; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	return true
}

// isRegNameChar covers RFC 3986 reg-name: unreserved, sub-delims and
// percent-encoded bytes (the hex digits themselves are caught by the
// unreserved range).
func isRegNameChar(c byte) bool {
	if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	switch c {
	case '-', '.', '_', '~', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', '%':
		return true
	}
	return false
}
