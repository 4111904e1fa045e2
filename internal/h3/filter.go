package h3

import (
	"strings"

	"golang.org/x/net/http2/hpack"
)

// connectionHeaderNames enumerates the connection-specific response fields
// this transport has no use for, in the canonical order used for diagnostics.
var connectionHeaderNames = [...]string{
	"Connection",
	"Transfer-Encoding",
	"Keep-Alive",
	"Upgrade",
	"Proxy-Connection",
}

// FilterResponseHeaders removes connection-specific fields from an
// application-supplied response header set. It never rejects the response.
// The second return value lists the removed field names in the canonical
// order, for the one diagnostic entry the caller emits.
func FilterResponseHeaders(fields []hpack.HeaderField) ([]hpack.HeaderField, []string) {
	kept := make([]hpack.HeaderField, 0, len(fields))
	present := [len(connectionHeaderNames)]bool{}
	for _, hf := range fields {
		idx := -1
		for i, name := range connectionHeaderNames {
			if strings.EqualFold(hf.Name, name) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			present[idx] = true
			continue
		}
		kept = append(kept, hf)
	}
	var removed []string
	for i, name := range connectionHeaderNames {
		if present[i] {
			removed = append(removed, name)
		}
	}
	return kept, removed
}

// FormatRemovedHeaders renders the removed-field list for the diagnostic
// entry: "Connection", "Connection and Upgrade",
// "Connection, Keep-Alive and Upgrade".
func FormatRemovedHeaders(removed []string) string {
	switch len(removed) {
	case 0:
		return ""
	case 1:
		return removed[0]
	}
	return strings.Join(removed[:len(removed)-1], ", ") + " and " + removed[len(removed)-1]
}
