package upstreamlimit

// safetyFloorSeconds is the minimum wait ever derived from an explicit
// hint, preventing pathological tight-loop retries on a tiny/zero hint.
const safetyFloorSeconds = 2

// ComputeLockout derives the final lockout duration, in seconds, for an
// observed failure. When hint is present (ok==true) it wins outright,
// clamped to the safety floor. Otherwise the reason-specific default
// table applies: QuotaExhausted walks the caller-supplied escalation
// schedule (indexed by failureCount, reusing the last rung once the
// schedule is exhausted); every other reason uses a fixed constant that
// may additionally depend on failureCount (ModelCapacityExhausted) or
// on the HTTP status (ServerError's 404 vs. other 5xx split).
func ComputeLockout(reason RateLimitReason, hint uint64, hintOK bool, status int, failureCount int, schedule []uint64) uint64 {
	if hintOK {
		return max(hint, safetyFloorSeconds)
	}

	switch reason {
	case ReasonQuotaExhausted:
		return scheduleLockout(failureCount, schedule)
	case ReasonRateLimitExceeded:
		return 5
	case ReasonModelCapacityExhausted:
		switch failureCount {
		case 1:
			return 5
		case 2:
			return 10
		default:
			return 15
		}
	case ReasonServerError:
		if status == 404 {
			return 5
		}
		return 8
	default: // ReasonUnknown
		return 60
	}
}

// scheduleLockout indexes the escalation schedule by the 1-based
// failureCount, reusing the last rung once the schedule is exhausted.
// An empty schedule falls back to a 2-hour default.
func scheduleLockout(failureCount int, schedule []uint64) uint64 {
	if len(schedule) == 0 {
		return 7200
	}
	index := failureCount - 1
	if index < 0 {
		index = 0
	}
	if index >= len(schedule) {
		index = len(schedule) - 1
	}
	return schedule[index]
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
