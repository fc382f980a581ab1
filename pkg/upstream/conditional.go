package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Validators are the cache validators a conditional request is built from.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// IsZero reports whether there is nothing to revalidate with.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match or If-Modified-Since to req.
// ETag wins when both validators are present.
func AddConditionalHeaders(req *http.Request, v Validators) {
	if req == nil {
		return
	}

	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	} else if !v.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", v.LastModified.UTC().Format(http.TimeFormat))
	}
}

// parseExpires computes the freshness deadline of a response.
// Cache-Control max-age takes precedence over Expires; without either, or when
// they do not parse, the deadline is now + defaultTTL. A deadline in the past
// is clamped to now.
func parseExpires(headers http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	if maxAge, ok := parseMaxAge(headers.Get("Cache-Control")); ok {
		return now.Add(maxAge)
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(defaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(defaultTTL)
	}

	if expires.Before(now) {
		return now
	}
	return expires
}

// parseMaxAge extracts the max-age directive from a Cache-Control value.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// parseLastModified returns the Last-Modified header, or the zero time.
func parseLastModified(headers http.Header) time.Time {
	if s := headers.Get("Last-Modified"); s != "" {
		if t, err := http.ParseTime(s); err == nil {
			return t
		}
	}
	return time.Time{}
}
