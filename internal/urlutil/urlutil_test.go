package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"no scheme", "example.com", "https://example.com"},
		{"http", "http://example.com", "http://example.com"},
		{"https", "https://example.com", "https://example.com"},
		{"trailing slash", "http://example.com/", "http://example.com"},
		{"with port", "localhost:8080", "https://localhost:8080"},
		{"whitespace", "  http://example.com  ", "http://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeBaseURL(tt.input))
		})
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		path     string
		expected string
	}{
		{"empty base", "", "/path", "/path"},
		{"with leading slash", "http://example.com", "/api/v1", "http://example.com/api/v1"},
		{"without leading slash", "http://example.com", "api/v1", "http://example.com/api/v1"},
		{"base with trailing slash", "http://example.com/", "/api", "http://example.com/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinPath(tt.baseURL, tt.path))
		})
	}
}

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"http", "http://example.com", true},
		{"https", "https://youtu.be/dQw4w9WgXcQ", true},
		{"protocol-relative", "//example.com", true},
		{"search query", "never gonna give you up", false},
		{"local path", "/path/to/file.mp4", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRemoteURL(tt.url))
		})
	}
}
