// Package ratelimit computes the retry-after duration that feeds a
// credential's Cooldown mark. The gateway does not enforce per-user RPM/TPM
// limits (see Non-goals); what survives from the teacher's rate limiter is
// the piece of math every mark still needs: turning an upstream response
// into "how long until this credential is usable again".
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultRetryAfter is used when a 429 carries no Retry-After header at all.
const defaultRetryAfter = 60 * time.Second

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// a delay in seconds or an HTTP-date (RFC 7231 §7.1.3). now is the
// reference point for the HTTP-date form. A missing, empty, or unparseable
// header returns ok=false so the caller can fall back to a status-specific
// default instead of silently cooling down for 0s.
func ParseRetryAfter(header string, now time.Time) (d time.Duration, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := when.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// Cooldown applies the mark-application default rule to an already parsed
// Retry-After duration: a present value is used as-is, an absent one
// (ok=false, i.e. the header was missing or unparseable) falls back to
// defaultRetryAfter.
func Cooldown(retryAfter time.Duration, ok bool) time.Duration {
	if !ok {
		return defaultRetryAfter
	}
	return retryAfter
}
