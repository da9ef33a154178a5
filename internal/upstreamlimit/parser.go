package upstreamlimit

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Precompiled once at package init as package-level vars instead of
// recompiling on every call.
var (
	reTryAgainMinSec  = regexp.MustCompile(`(?i)try again in (\d+)m\s*(\d+)s`)
	reWaitSec         = regexp.MustCompile(`(?i)(?:try again in|backoff for|wait)\s*(\d+)s`)
	reQuotaResetSec   = regexp.MustCompile(`(?i)quota will reset in (\d+) second`)
	reRetryAfterSec   = regexp.MustCompile(`(?i)retry after (\d+) second`)
	reParenWaitSec    = regexp.MustCompile(`\(wait (\d+)s\)`)
	reDurationGrammar = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+(?:\.\d+)?)s)?(?:(\d+(?:\.\d+)?)ms)?$`)
)

// ExtractRetryHint looks for an explicit wait-duration hint in the
// Retry-After header value and/or the response body, in that priority
// order, and returns the hint in seconds. It never returns an error:
// absence or malformed input simply yields (0, false).
func ExtractRetryHint(retryAfterHeader string, body string) (uint64, bool) {
	if retryAfterHeader != "" {
		if seconds, err := strconv.ParseUint(retryAfterHeader, 10, 64); err == nil {
			return seconds, true
		}
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if gjson.Valid(trimmed) {
			if seconds, ok := extractFromStructuredBody(trimmed); ok {
				return seconds, true
			}
		}
	}

	return extractFromText(body)
}

func extractFromStructuredBody(body string) (uint64, bool) {
	root := gjson.Parse(body)

	if delay := root.Get("error.details.0.metadata.quotaResetDelay"); delay.Exists() {
		if seconds, ok := parseDurationString(delay.String()); ok {
			return seconds, true
		}
	}

	if retry := root.Get("error.retry_after"); retry.Exists() {
		return uint64(retry.Int()), true
	}

	return 0, false
}

func extractFromText(body string) (uint64, bool) {
	if m := reTryAgainMinSec.FindStringSubmatch(body); m != nil {
		minutes, _ := strconv.ParseUint(m[1], 10, 64)
		seconds, _ := strconv.ParseUint(m[2], 10, 64)
		return minutes*60 + seconds, true
	}
	if m := reWaitSec.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseUint(m[1], 10, 64)
		return seconds, true
	}
	if m := reQuotaResetSec.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseUint(m[1], 10, 64)
		return seconds, true
	}
	if m := reRetryAfterSec.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseUint(m[1], 10, 64)
		return seconds, true
	}
	if m := reParenWaitSec.FindStringSubmatch(body); m != nil {
		seconds, _ := strconv.ParseUint(m[1], 10, 64)
		return seconds, true
	}
	return 0, false
}

// parseDurationString parses the composite duration grammar used by
// Google's quotaResetDelay metadata field: an optional "H h", optional
// "M m", optional "S[.fff] s" and optional "MS[.fff] ms" component
// concatenated with no separators, e.g. "2h1m1s", "1h30m", "500ms",
// "510.79ms", "42s". Fractional seconds and milliseconds round up, so
// the computed wait never undershoots the upstream's intent. If all
// four components are absent or zero, the string is unparseable.
func parseDurationString(s string) (uint64, bool) {
	m := reDurationGrammar.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	var hours, minutes uint64
	if m[1] != "" {
		hours, _ = strconv.ParseUint(m[1], 10, 64)
	}
	if m[2] != "" {
		minutes, _ = strconv.ParseUint(m[2], 10, 64)
	}

	var seconds, milliseconds float64
	if m[3] != "" {
		seconds, _ = strconv.ParseFloat(m[3], 64)
	}
	if m[4] != "" {
		milliseconds, _ = strconv.ParseFloat(m[4], 64)
	}

	total := hours*3600 + minutes*60 + uint64(math.Ceil(seconds)) + uint64(math.Ceil(milliseconds/1000.0))
	if total == 0 {
		return 0, false
	}
	return total, true
}
