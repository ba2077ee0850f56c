package pool

import (
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/ratelimit"
)

const transientOutage = 30 * time.Second

// ClassifyMark maps an upstream HTTP status (and, for 429, a parsed
// Retry-After duration) to the disallow mark C3 should apply, following the
// status table in the error handling design: 401/403 -> Dead, 429 ->
// Cooldown, 502/503/504 -> Transient, everything else -> no mark.
// retryAfterOK reports whether retryAfter came from an actual parsed header
// (see ratelimit.ParseRetryAfter); false means no header, and Cooldown
// falls back to its provider-neutral default.
func ClassifyMark(credentialID int64, scope gateway.Scope, status int, retryAfter time.Duration, retryAfterOK bool, now time.Time) *gateway.DisallowEntry {
	switch {
	case status == 401 || status == 403:
		return &gateway.DisallowEntry{
			CredentialID: credentialID,
			Scope:        scope,
			Level:        gateway.Dead,
			Reason:       "auth_error",
			UpdatedAt:    now,
		}
	case status == 429:
		until := now.Add(ratelimit.Cooldown(retryAfter, retryAfterOK))
		return &gateway.DisallowEntry{
			CredentialID: credentialID,
			Scope:        scope,
			Level:        gateway.Cooldown,
			Until:        &until,
			Reason:       "rate_limited",
			UpdatedAt:    now,
		}
	case status == 502 || status == 503 || status == 504:
		until := now.Add(transientOutage)
		return &gateway.DisallowEntry{
			CredentialID: credentialID,
			Scope:        scope,
			Level:        gateway.Transient,
			Until:        &until,
			Reason:       "upstream_unavailable",
			UpdatedAt:    now,
		}
	default:
		return nil
	}
}

// ClassifyNetworkError builds the Transient mark for a DNS/connect/read
// failure that never reached the upstream far enough to produce a status
// code.
func ClassifyNetworkError(credentialID int64, scope gateway.Scope, now time.Time) *gateway.DisallowEntry {
	until := now.Add(transientOutage)
	return &gateway.DisallowEntry{
		CredentialID: credentialID,
		Scope:        scope,
		Level:        gateway.Transient,
		Until:        &until,
		Reason:       "network_error",
		UpdatedAt:    now,
	}
}
