package h3

import (
	"strings"
	"testing"

	"golang.org/x/net/http2/hpack"
)

func defaultLimits() Limits {
	return Limits{Scheme: "https", MaxFieldSize: 16384, MaxRequestLineSize: 8192}
}

func hf(name, value string) hpack.HeaderField {
	return hpack.HeaderField{Name: name, Value: value}
}

func baseRequest(extra ...hpack.HeaderField) []hpack.HeaderField {
	fields := []hpack.HeaderField{
		hf(":method", "GET"),
		hf(":scheme", "https"),
		hf(":authority", "example.com"),
		hf(":path", "/"),
	}
	return append(fields, extra...)
}

func TestValidateRequestHeaders_Valid(t *testing.T) {
	rl, headers, rej := ValidateRequestHeaders(baseRequest(hf("accept", "*/*")), defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if rl.Method != "GET" || rl.Scheme != "https" || rl.Authority != "example.com" {
		t.Errorf("request line = %+v", rl)
	}
	if rl.Path != "/" || rl.RawTarget != "/" || rl.Query != "" {
		t.Errorf("path fields = %q %q %q", rl.Path, rl.RawTarget, rl.Query)
	}
	if rl.ContentLength != -1 {
		t.Errorf("ContentLength = %d, want -1", rl.ContentLength)
	}
	if got := headers.Get("accept"); got != "*/*" {
		t.Errorf("accept header = %q", got)
	}
}

func TestValidateRequestHeaders_PathNormalization(t *testing.T) {
	fields := []hpack.HeaderField{
		hf(":method", "GET"),
		hf(":scheme", "https"),
		hf(":authority", "example.com"),
		hf(":path", "/a/%20b/../c?q=%2F"),
	}
	rl, _, rej := ValidateRequestHeaders(fields, defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if rl.Path != "/a/c" {
		t.Errorf("Path = %q, want %q", rl.Path, "/a/c")
	}
	if rl.Query != "?q=%2F" {
		t.Errorf("Query = %q, want %q", rl.Query, "?q=%2F")
	}
	if rl.RawTarget != "/a/%20b/../c?q=%2F" {
		t.Errorf("RawTarget = %q", rl.RawTarget)
	}
}

func TestValidateRequestHeaders_AuthorityHostReconciliation(t *testing.T) {
	tests := []struct {
		name      string
		fields    []hpack.HeaderField
		wantHost  string
		wantError string
	}{
		{
			name: "authority wins over host",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"),
				hf(":authority", "auth.example"), hf(":path", "/"),
				hf("host", "host.example"),
			},
			wantHost: "auth.example",
		},
		{
			name: "empty authority falls back to host",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"),
				hf(":authority", ""), hf(":path", "/"),
				hf("host", "host.example"),
			},
			wantHost: "host.example",
		},
		{
			name: "no authority no host",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"), hf(":path", "/"),
			},
			wantHost: "",
		},
		{
			name: "multiple host headers rejected",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"), hf(":path", "/"),
				hf("host", "one.example"), hf("host", "two.example"),
			},
			wantError: "request contains multiple Host headers: one.example, two.example",
		},
		{
			name: "invalid authority rejected",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"),
				hf(":authority", "bad host"), hf(":path", "/"),
			},
			wantError: `invalid authority or Host header: "bad host"`,
		},
		{
			name: "ipv6 literal with port accepted",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"),
				hf(":authority", "[::1]:8443"), hf(":path", "/"),
			},
			wantHost: "[::1]:8443",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl, headers, rej := ValidateRequestHeaders(tt.fields, defaultLimits())
			if tt.wantError != "" {
				if rej == nil {
					t.Fatalf("expected rejection %q, got none", tt.wantError)
				}
				if rej.Detail != tt.wantError {
					t.Errorf("detail = %q, want %q", rej.Detail, tt.wantError)
				}
				return
			}
			if rej != nil {
				t.Fatalf("unexpected rejection: %v", rej)
			}
			if rl.Authority != tt.wantHost {
				t.Errorf("Authority = %q, want %q", rl.Authority, tt.wantHost)
			}
			if got := headers.Values("host"); len(got) != 0 {
				t.Errorf("host header survived reconciliation: %v", got)
			}
		})
	}
}

func TestValidateRequestHeaders_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		fields     []hpack.HeaderField
		wantDetail string
	}{
		{
			name: "missing method",
			fields: []hpack.HeaderField{
				hf(":scheme", "https"), hf(":path", "/"),
			},
			wantDetail: `malformed request: invalid method ""`,
		},
		{
			name: "method with space",
			fields: []hpack.HeaderField{
				hf(":method", "GE T"), hf(":scheme", "https"), hf(":path", "/"),
			},
			wantDetail: `malformed request: invalid method "GE T"`,
		},
		{
			name:       "scheme mismatch",
			fields:     []hpack.HeaderField{hf(":method", "GET"), hf(":scheme", "http"), hf(":path", "/")},
			wantDetail: `request :scheme "http" does not match the connection scheme "https"`,
		},
		{
			name:       "missing path",
			fields:     []hpack.HeaderField{hf(":method", "GET"), hf(":scheme", "https")},
			wantDetail: `malformed request: invalid path ""`,
		},
		{
			name:       "relative path",
			fields:     []hpack.HeaderField{hf(":method", "GET"), hf(":scheme", "https"), hf(":path", "foo")},
			wantDetail: `malformed request: invalid path "foo"`,
		},
		{
			name:       "connect with scheme",
			fields:     []hpack.HeaderField{hf(":method", "CONNECT"), hf(":scheme", "https"), hf(":authority", "example.com:443")},
			wantDetail: "CONNECT requests must not send :scheme or :path",
		},
		{
			name:       "connect with path",
			fields:     []hpack.HeaderField{hf(":method", "CONNECT"), hf(":path", "/"), hf(":authority", "example.com:443")},
			wantDetail: "CONNECT requests must not send :scheme or :path",
		},
		{
			name:       "uppercase field name",
			fields:     baseRequest(hf("Accept", "*/*")),
			wantDetail: `invalid header field name "Accept": field names must be lowercase`,
		},
		{
			name:       "connection header",
			fields:     baseRequest(hf("connection", "close")),
			wantDetail: `connection-specific header field "connection" is not permitted`,
		},
		{
			name:       "transfer-encoding header",
			fields:     baseRequest(hf("transfer-encoding", "chunked")),
			wantDetail: `connection-specific header field "transfer-encoding" is not permitted`,
		},
		{
			name:       "te other than trailers",
			fields:     baseRequest(hf("te", "gzip")),
			wantDetail: `te header field value "gzip" is not permitted, only "trailers"`,
		},
		{
			name: "duplicate pseudo-header",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":method", "POST"), hf(":scheme", "https"), hf(":path", "/"),
			},
			wantDetail: `duplicate pseudo-header ":method"`,
		},
		{
			name:       "pseudo-header after regular",
			fields:     append(baseRequest(hf("accept", "*/*")), hf(":method", "GET")),
			wantDetail: `pseudo-header ":method" found after regular header fields`,
		},
		{
			name: "unknown pseudo-header",
			fields: []hpack.HeaderField{
				hf(":method", "GET"), hf(":scheme", "https"), hf(":path", "/"), hf(":proto", "webtransport"),
			},
			wantDetail: `unknown pseudo-header ":proto"`,
		},
		{
			name:       "duplicate content-length",
			fields:     baseRequest(hf("content-length", "3"), hf("content-length", "3")),
			wantDetail: "malformed request: multiple content-length headers",
		},
		{
			name:       "invalid content-length",
			fields:     baseRequest(hf("content-length", "abc")),
			wantDetail: `malformed request: invalid content-length "abc"`,
		},
		{
			name:       "negative content-length",
			fields:     baseRequest(hf("content-length", "-1")),
			wantDetail: `malformed request: invalid content-length "-1"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, rej := ValidateRequestHeaders(tt.fields, defaultLimits())
			if rej == nil {
				t.Fatalf("expected rejection %q, got none", tt.wantDetail)
			}
			if rej.Code != ErrCodeMessageError {
				t.Errorf("code = %s, want %s", rej.Code, ErrCodeMessageError)
			}
			if rej.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", rej.Detail, tt.wantDetail)
			}
		})
	}
}

func TestValidateRequestHeaders_Connect(t *testing.T) {
	fields := []hpack.HeaderField{
		hf(":method", "CONNECT"),
		hf(":authority", "example.com:443"),
	}
	rl, _, rej := ValidateRequestHeaders(fields, defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if rl.Authority != "example.com:443" {
		t.Errorf("Authority = %q", rl.Authority)
	}
	if rl.Path != "" || rl.RawTarget != "" {
		t.Errorf("CONNECT should carry no path, got %q / %q", rl.Path, rl.RawTarget)
	}
}

func TestValidateRequestHeaders_AsteriskForm(t *testing.T) {
	fields := []hpack.HeaderField{
		hf(":method", "OPTIONS"), hf(":scheme", "https"),
		hf(":authority", "example.com"), hf(":path", "*"),
	}
	rl, _, rej := ValidateRequestHeaders(fields, defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if rl.Path != "" {
		t.Errorf("Path = %q, want empty for asterisk form", rl.Path)
	}
	if rl.RawTarget != "*" {
		t.Errorf("RawTarget = %q, want %q", rl.RawTarget, "*")
	}
}

func TestValidateRequestHeaders_RequestLineTooLong(t *testing.T) {
	limits := defaultLimits()
	limits.MaxRequestLineSize = 64
	fields := []hpack.HeaderField{
		hf(":method", "GET"), hf(":scheme", "https"),
		hf(":authority", "example.com"),
		hf(":path", "/"+strings.Repeat("a", 100)),
	}
	_, _, rej := ValidateRequestHeaders(fields, limits)
	if rej == nil {
		t.Fatal("expected rejection")
	}
	if rej.Detail != "request line too long" {
		t.Errorf("detail = %q", rej.Detail)
	}
}

func TestValidateRequestHeaders_ContentLength(t *testing.T) {
	rl, headers, rej := ValidateRequestHeaders(baseRequest(hf("content-length", "42")), defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if rl.ContentLength != 42 {
		t.Errorf("ContentLength = %d, want 42", rl.ContentLength)
	}
	if got := headers.Get("content-length"); got != "42" {
		t.Errorf("content-length header = %q", got)
	}
}

func TestValidateRequestHeaders_TeTrailersAllowed(t *testing.T) {
	_, headers, rej := ValidateRequestHeaders(baseRequest(hf("te", "trailers")), defaultLimits())
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if got := headers.Get("te"); got != "trailers" {
		t.Errorf("te header = %q", got)
	}
}
