package h3

import "testing"

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantPath  string
		wantQuery string
	}{
		{"root", "/", "/", ""},
		{"simple", "/a/b/c", "/a/b/c", ""},
		{"asterisk form", "*", "", ""},
		{"query preserved raw", "/a/b?x=1&y=%2", "/a/b", "?x=1&y=%2"},
		{"empty query", "/a?", "/a", "?"},
		{"dot segment", "/a/./b", "/a/b", ""},
		{"dot dot segment", "/a/b/c/../d", "/a/b/d", ""},
		{"trailing dot dot", "/a/b/..", "/a/", ""},
		{"trailing dot", "/a/b/.", "/a/b/", ""},
		{"above root absorbed", "/a/b/c/../../../../d", "/d", ""},
		{"above root to root", "/../..", "/", ""},
		{"percent decoded", "/a%20b/c", "/a b/c", ""},
		{"percent decoded letter", "/%74est", "/test", ""},
		{"multibyte utf-8", "/a%E2%82%AC", "/a€", ""},
		{"encoded slash preserved", "/a%2Fb/c", "/a%2Fb/c", ""},
		{"encoded slash lowercase preserved", "/a%2fb", "/a%2fb", ""},
		{"malformed escape literal", "/a%G1b", "/a%G1b", ""},
		{"truncated escape literal", "/a%2", "/a%2", ""},
		{"decode then normalize", "/a/%2E%2E/b", "/b", ""},
		{"decoded dots collapse", "/a/%2e/b", "/a/b", ""},
		{"query not decoded", "/p?%41=%42", "/p", "?%41=%42"},
		{"dot segments only in path", "/a/../b?c=../d", "/b", "?c=../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, query := NormalizeTarget(tt.target)
			if path != tt.wantPath {
				t.Errorf("NormalizeTarget(%q) path = %q, want %q", tt.target, path, tt.wantPath)
			}
			if query != tt.wantQuery {
				t.Errorf("NormalizeTarget(%q) query = %q, want %q", tt.target, query, tt.wantQuery)
			}
		})
	}
}
