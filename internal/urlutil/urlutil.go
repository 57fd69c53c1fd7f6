// Package urlutil provides URL manipulation utilities.
package urlutil

import "strings"

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds https:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
//
// Examples:
//
//	"api.genius.com"         -> "https://api.genius.com"
//	"https://genius.com/"    -> "https://genius.com"
//	"http://localhost:8080/" -> "http://localhost:8080"
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}

	baseURL = strings.TrimSpace(baseURL)

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}

// JoinPath joins a base URL with a path, ensuring single slashes.
func JoinPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return baseURL + path
}

// IsRemoteURL checks if a string is a remote URL that can be fetched
// directly, as opposed to a free-text search query or a local path.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}
