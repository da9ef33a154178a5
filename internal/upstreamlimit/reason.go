package upstreamlimit

import (
	"strings"

	"github.com/tidwall/gjson"
)

// RateLimitReason classifies why an upstream response indicates the
// account (or account+model pair) is temporarily unavailable.
type RateLimitReason int

const (
	// ReasonUnknown means the response was recognized as a limit but its
	// subtype could not be determined.
	ReasonUnknown RateLimitReason = iota
	// ReasonQuotaExhausted means a per-day/long-horizon quota is gone.
	ReasonQuotaExhausted
	// ReasonRateLimitExceeded means a short-horizon rate (tokens/requests
	// per minute) tripped.
	ReasonRateLimitExceeded
	// ReasonModelCapacityExhausted means model-specific shared capacity
	// is under pressure.
	ReasonModelCapacityExhausted
	// ReasonServerError means the backend returned a 5xx or 404; treated
	// as soft-unavailable rather than a true rate limit.
	ReasonServerError
)

// String returns a human-readable name, used for logging.
func (r RateLimitReason) String() string {
	switch r {
	case ReasonQuotaExhausted:
		return "quota_exhausted"
	case ReasonRateLimitExceeded:
		return "rate_limit_exceeded"
	case ReasonModelCapacityExhausted:
		return "model_capacity_exhausted"
	case ReasonServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// ClassifyReason inspects the HTTP status and raw error response body
// and returns the RateLimitReason they represent. It never errors: an
// unparseable or unrecognized body degrades to ReasonUnknown.
//
// A 404 or any 5xx status settles the classification as
// ReasonServerError outright, since those bodies are frequently plain
// text or HTML with no reliable structure to parse. Otherwise,
// structured Google-style bodies are tried first
// (error.details[0].reason, falling back to error.message), then a
// fixed, order-sensitive set of free-text phrases. The order matters:
// "Resource has been exhausted ... Tokens per minute exceeded" must
// classify as ReasonRateLimitExceeded, not ReasonQuotaExhausted, so the
// "per minute"/"rate limit" check always runs before the "quota" check.
func ClassifyReason(status int, body string) RateLimitReason {
	if status == 404 || (status >= 500 && status <= 599) {
		return ReasonServerError
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if gjson.Valid(trimmed) {
			if reason, ok := classifyFromStructured(trimmed); ok {
				return reason
			}
		}
	}
	return classifyFromText(body)
}

func classifyFromStructured(body string) (RateLimitReason, bool) {
	root := gjson.Parse(body)

	// A reason field, even one we don't recognize, settles the
	// classification: the message fallback below only applies when the
	// field is absent entirely.
	if reasonField := root.Get("error.details.0.reason"); reasonField.Exists() {
		switch reasonField.String() {
		case "QUOTA_EXHAUSTED":
			return ReasonQuotaExhausted, true
		case "RATE_LIMIT_EXCEEDED":
			return ReasonRateLimitExceeded, true
		case "MODEL_CAPACITY_EXHAUSTED":
			return ReasonModelCapacityExhausted, true
		default:
			return ReasonUnknown, true
		}
	}

	if msg := root.Get("error.message").String(); msg != "" {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "per minute") || strings.Contains(lower, "rate limit") {
			return ReasonRateLimitExceeded, true
		}
	}

	return ReasonUnknown, false
}

func classifyFromText(body string) RateLimitReason {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "per minute"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return ReasonRateLimitExceeded
	case strings.Contains(lower, "exhausted"), strings.Contains(lower, "quota"):
		return ReasonQuotaExhausted
	default:
		return ReasonUnknown
	}
}
