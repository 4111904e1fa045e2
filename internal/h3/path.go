package h3

import "strings"

// NormalizeTarget turns a raw :path value into a decoded, dot-segment-free
// absolute path plus the raw query component. The query is returned verbatim
// including its leading '?', or empty when the target has none; the caller is
// expected to keep the original target around for diagnostics.
//
// A bare "*" target (OPTIONS form) bypasses decoding entirely and yields an
// empty canonical path.
func NormalizeTarget(rawTarget string) (path, query string) {
	if rawTarget == "*" {
		return "", ""
	}
	raw := rawTarget
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i:]
		raw = raw[:i]
	}
	return removeDotSegments(decodePath(raw)), query
}

// decodePath percent-decodes a path component. Escapes that do not form two
// valid hex digits are left as literal bytes, and %2F is never decoded so a
// path segment cannot masquerade as a separator.
func decodePath(p string) string {
	if !strings.ContainsRune(p, '%') {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); {
		if p[i] == '%' && i+3 <= len(p) {
			hi, okHi := unhex(p[i+1])
			lo, okLo := unhex(p[i+2])
			if okHi && okLo {
				c := hi<<4 | lo
				if c == '/' {
					// Preserve the escape verbatim, original casing included.
					b.WriteString(p[i : i+3])
				} else {
					b.WriteByte(c)
				}
				i += 3
				continue
			}
		}
		b.WriteByte(p[i])
		i++
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// removeDotSegments applies the RFC 3986 section 5.2.4 algorithm. Navigating
// above the root is absorbed rather than treated as an error.
func removeDotSegments(path string) string {
	if !strings.Contains(path, "/.") && !strings.HasPrefix(path, ".") {
		return path
	}
	var out []byte
	in := path
	for len(in) > 0 {
		switch {
		case strings.HasPrefix(in, "../"):
			in = in[3:]
		case strings.HasPrefix(in, "./"):
			in = in[2:]
		case strings.HasPrefix(in, "/./"):
			in = in[2:]
		case in == "/.":
			in = "/"
		case strings.HasPrefix(in, "/../"):
			in = in[3:]
			out = trimLastSegment(out)
		case in == "/..":
			in = "/"
			out = trimLastSegment(out)
		case in == "." || in == "..":
			in = ""
		default:
			// Move one segment, including its leading slash, to the output.
			end := len(in)
			if i := strings.IndexByte(in[1:], '/'); i >= 0 {
				end = i + 1
			}
			out = append(out, in[:end]...)
			in = in[end:]
		}
	}
	return string(out)
}

func trimLastSegment(out []byte) []byte {
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] == '/' {
			return out[:i]
		}
	}
	return out[:0]
}
