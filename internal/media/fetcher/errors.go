package fetcher

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a failed fetch so the API can report something more
// actionable than a raw downloader stderr dump.
type ErrorKind string

const (
	// ErrKindUnavailable means the video was removed or made private.
	ErrKindUnavailable ErrorKind = "unavailable"
	// ErrKindAgeRestricted means the video requires sign-in age verification.
	ErrKindAgeRestricted ErrorKind = "age_restricted"
	// ErrKindGeoBlocked means the video is blocked in the server's region.
	ErrKindGeoBlocked ErrorKind = "geo_blocked"
	// ErrKindCopyright means the video was taken down on a copyright claim.
	ErrKindCopyright ErrorKind = "copyright"
	// ErrKindLoginRequired means the video needs an authenticated session.
	ErrKindLoginRequired ErrorKind = "login_required"
	// ErrKindFutureLive means the target is a live event that has not
	// started yet.
	ErrKindFutureLive ErrorKind = "future_live_event"
	// ErrKindUnsupportedURL means the downloader has no extractor for the
	// URL.
	ErrKindUnsupportedURL ErrorKind = "unsupported_url"
	// ErrKindFormatUnavailable means no requested format could be served.
	ErrKindFormatUnavailable ErrorKind = "format_unavailable"
	// ErrKindNoResults means a search query matched nothing.
	ErrKindNoResults ErrorKind = "no_results"
	// ErrKindNotFound means the URL produced no video.
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindNetwork means a connectivity or timeout failure.
	ErrKindNetwork ErrorKind = "network"
	// ErrKindGeneric is any other downloader failure.
	ErrKindGeneric ErrorKind = "generic"
)

// FetchError is a classified downloader failure.
type FetchError struct {
	Kind   ErrorKind
	Source string
	Detail string
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("fetch failed (%s): %s", e.Kind, e.Source)
	}
	return fmt.Sprintf("fetch failed (%s): %s: %s", e.Kind, e.Source, e.Detail)
}

// UserMessage returns a short message suitable for API clients.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case ErrKindUnavailable:
		return "This video is unavailable or private"
	case ErrKindAgeRestricted:
		return "This video is age-restricted and cannot be downloaded"
	case ErrKindGeoBlocked:
		return "This video is not available in the server's region"
	case ErrKindCopyright:
		return "This video was removed due to a copyright claim"
	case ErrKindLoginRequired:
		return "This video requires signing in to download"
	case ErrKindFutureLive:
		return "This live event has not started yet"
	case ErrKindUnsupportedURL:
		return "This URL is not supported"
	case ErrKindFormatUnavailable:
		return "No downloadable format is available for this video"
	case ErrKindNoResults:
		return "The search returned no results"
	case ErrKindNotFound:
		return "No video found for this request"
	case ErrKindNetwork:
		return "Network error while downloading, please retry"
	default:
		return "Failed to download the video"
	}
}

// classifyStderr maps downloader stderr output to an error kind. Matching
// is substring-based because yt-dlp error text varies across extractors.
func classifyStderr(stderr string) ErrorKind {
	s := strings.ToLower(stderr)
	switch {
	// Copyright takedowns say "removed", so they must be checked before
	// the plain unavailable phrases.
	case strings.Contains(s, "copyright"):
		return ErrKindCopyright
	case strings.Contains(s, "live event will begin"),
		strings.Contains(s, "premieres in"):
		return ErrKindFutureLive
	case strings.Contains(s, "age"):
		if strings.Contains(s, "restricted") || strings.Contains(s, "confirm your age") || strings.Contains(s, "sign in") {
			return ErrKindAgeRestricted
		}
		return ErrKindGeneric
	case strings.Contains(s, "login required"),
		strings.Contains(s, "only available for registered users"):
		return ErrKindLoginRequired
	case strings.Contains(s, "video unavailable"),
		strings.Contains(s, "private video"),
		strings.Contains(s, "this video has been removed"):
		return ErrKindUnavailable
	case strings.Contains(s, "not available in your country"),
		strings.Contains(s, "blocked in your country"),
		strings.Contains(s, "geo restricted"):
		return ErrKindGeoBlocked
	case strings.Contains(s, "unsupported url"):
		return ErrKindUnsupportedURL
	case strings.Contains(s, "requested format is not available"):
		return ErrKindFormatUnavailable
	case strings.Contains(s, "no video results"),
		strings.Contains(s, "did not return any data"):
		return ErrKindNoResults
	case strings.Contains(s, "http error 404"),
		strings.Contains(s, "is not a valid url"):
		return ErrKindNotFound
	case strings.Contains(s, "unable to download"),
		strings.Contains(s, "timed out"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "temporary failure in name resolution"):
		return ErrKindNetwork
	default:
		return ErrKindGeneric
	}
}

// newFetchError builds a FetchError from captured stderr lines.
func newFetchError(source string, stderrLines []string) *FetchError {
	detail := ""
	if len(stderrLines) > 0 {
		detail = stderrLines[len(stderrLines)-1]
	}
	return &FetchError{
		Kind:   classifyStderr(strings.Join(stderrLines, "\n")),
		Source: source,
		Detail: detail,
	}
}
