package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfterMs caps provider-reported retry-after values to bound
// worst-case backoff.
const MaxRetryAfterMs int64 = 5 * 60 * 1000

const (
	defaultGenericRetryAfterMs int64 = 30_000
	defaultSlackRetryAfterMs   int64 = 30_000
	defaultHubSpotRetryAfterMs int64 = 10_000
	defaultTeamsRetryAfterMs   int64 = 60_000
)

// Info is the uniform rate-limit descriptor normalized from
// provider-specific 429 responses.
type Info struct {
	IsRateLimited  bool   `json:"isRateLimited"`
	RetryAfterMs   int64  `json:"retryAfterMs,omitempty"`
	Limit          *int64 `json:"limit,omitempty"`
	Remaining      *int64 `json:"remaining,omitempty"`
	ResetAt        string `json:"resetAt,omitempty"`
	DailyLimit     *int64 `json:"dailyLimit,omitempty"`
	DailyRemaining *int64 `json:"dailyRemaining,omitempty"`
}

// ParseRateLimitInfo normalizes a provider response into an Info. Only
// HTTP 429 responses are treated as rate-limited. Unknown providers fall
// back to the generic rules so dispatch never fails on a new provider name.
func ParseRateLimitInfo(provider string, statusCode int, headers http.Header, body string) Info {
	if statusCode != http.StatusTooManyRequests {
		return Info{}
	}
	if headers == nil {
		headers = http.Header{}
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "slack":
		return parseWithDefault(headers, defaultSlackRetryAfterMs)
	case "hubspot":
		return parseHubSpot(headers)
	case "teams":
		// Teams is imprecise about retry timing; back off harder.
		return parseWithDefault(headers, defaultTeamsRetryAfterMs)
	default:
		return parseWithDefault(headers, defaultGenericRetryAfterMs)
	}
}

func parseWithDefault(headers http.Header, defaultRetryAfterMs int64) Info {
	info := Info{
		IsRateLimited: true,
		RetryAfterMs:  capRetryAfter(parseRetryAfter(headers, defaultRetryAfterMs)),
	}

	info.Limit = parseIntHeader(headers, "X-RateLimit-Limit")
	info.Remaining = parseIntHeader(headers, "X-RateLimit-Remaining")
	if reset := parseIntHeader(headers, "X-RateLimit-Reset"); reset != nil {
		info.ResetAt = time.Unix(*reset, 0).UTC().Format(time.RFC3339)
	}

	return info
}

func parseHubSpot(headers http.Header) Info {
	info := parseWithDefault(headers, defaultHubSpotRetryAfterMs)
	info.DailyLimit = parseIntHeader(headers, "X-HubSpot-RateLimit-Daily")
	info.DailyRemaining = parseIntHeader(headers, "X-HubSpot-RateLimit-Daily-Remaining")
	return info
}

// parseRetryAfter honors Retry-After as delta-seconds or an HTTP-date.
func parseRetryAfter(headers http.Header, defaultMs int64) int64 {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return defaultMs
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds < 0 {
			return defaultMs
		}
		return seconds * 1000
	}

	if at, err := http.ParseTime(raw); err == nil {
		ms := time.Until(at).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return ms
	}

	return defaultMs
}

func capRetryAfter(ms int64) int64 {
	if ms > MaxRetryAfterMs {
		return MaxRetryAfterMs
	}
	return ms
}

func parseIntHeader(headers http.Header, key string) *int64 {
	raw := strings.TrimSpace(headers.Get(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &value
}
