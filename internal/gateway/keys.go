package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

const cacheKeyPrefix = "GET "

// CacheKey is the request cache key of a GET for path. The query string is
// part of the key, so every distinct query is cached on its own.
func CacheKey(path string) string {
	return cacheKeyPrefix + path
}

// BasePath strips the query string from path.
func BasePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// InvalidationPrefix is the key prefix removed when path is written to.
// A write to /resource?id=3 drops cached reads of /resource, /resource?x=1 and so on.
func InvalidationPrefix(path string) string {
	return cacheKeyPrefix + BasePath(path)
}

// EncodeForm serializes form fields as application/x-www-form-urlencoded.
// Nil values are skipped; everything else is formatted with fmt.Sprint.
func EncodeForm(form map[string]any) string {
	values := url.Values{}
	for k, v := range form {
		if v == nil {
			continue
		}
		values.Add(k, fmt.Sprint(v))
	}
	return values.Encode()
}
