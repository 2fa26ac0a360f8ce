// Package urlstrategy builds public references for stored objects and reverses
// them back to object keys.
package urlstrategy

import (
	"net/url"
	"strings"
)

// URLStrategy defines the interface for public URL generation strategies
type URLStrategy interface {
	// PublicURL creates the public reference for an object key
	PublicURL(objectKey string) (string, error)

	// ObjectKey recovers the object key from a reference this strategy issued
	ObjectKey(publicURL string) (string, bool)
}

// escapeKey escapes each path segment of an object key.
func escapeKey(objectKey string) string {
	segments := strings.Split(strings.TrimPrefix(objectKey, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// unescapeKey reverses escapeKey, dropping any query or fragment.
func unescapeKey(escaped string) (string, bool) {
	if i := strings.IndexAny(escaped, "?#"); i >= 0 {
		escaped = escaped[:i]
	}
	key, err := url.PathUnescape(escaped)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}
