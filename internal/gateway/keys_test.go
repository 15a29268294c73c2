package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		path       string
		cacheKey   string
		invalidate string
	}{
		{path: "/resource", cacheKey: "GET /resource", invalidate: "GET /resource"},
		{path: "/resource?x=1", cacheKey: "GET /resource?x=1", invalidate: "GET /resource"},
		{path: "/api/tx?page=2&size=10", cacheKey: "GET /api/tx?page=2&size=10", invalidate: "GET /api/tx"},
		{path: "/", cacheKey: "GET /", invalidate: "GET /"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.cacheKey, CacheKey(tt.path))
			assert.Equal(t, tt.invalidate, InvalidationPrefix(tt.path))
		})
	}
}

func TestEncodeForm(t *testing.T) {
	assert.Equal(t, "", EncodeForm(nil))
	assert.Equal(t, "a=1&b=x+y", EncodeForm(map[string]any{"b": "x y", "a": 1, "c": nil}))
}
