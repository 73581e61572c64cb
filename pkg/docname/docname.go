// Package docname produces the canonical identifier for a document from a raw
// URL path. Every store keys on the normalized form, so two encodings of the
// same path always collide to one document.
package docname

import (
	"net/url"
	"strings"
)

// prefixes are routing segments that never form part of a document name.
var prefixes = []string{"api/", "ws/", "socket/"}

// Normalize converts a raw request path into a document name. Routing
// prefixes are stripped, then each path segment is percent-decoded
// independently; a segment that fails to decode is kept as-is. The pipeline
// runs to a fixpoint so the result is idempotent:
// Normalize(Normalize(p)) == Normalize(p). An empty result yields def.
func Normalize(rawPath string, def string) string {
	name := rawPath
	for {
		next := normalizeOnce(name)
		if next == name {
			break
		}
		name = next
	}
	if name == "" {
		return def
	}
	return name
}

func normalizeOnce(name string) string {
	name = strings.Trim(name, "/")
	for _, p := range prefixes {
		name = strings.TrimPrefix(name, p)
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return ""
	}
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		if decoded, err := url.PathUnescape(seg); err == nil {
			segments[i] = decoded
		}
	}
	name = strings.Join(segments, "/")
	// NUL bytes cannot appear in store keys
	return strings.ReplaceAll(name, "\x00", "")
}
