package upstreamlimit

import (
	"sync"
	"time"
)

// failureCountExpirySeconds is how long a failure streak survives
// without a new failure before the next read lazily resets it to zero.
// There is no background sweep for this map; the cost of a stale
// streak is bounded by this window, not by wall-clock memory growth.
const failureCountExpirySeconds = 3600

// pastResetFallbackSeconds is the retry_after_sec reported by
// SetLockoutUntil when the caller hands it a reset time already in
// the past.
const pastResetFallbackSeconds = 60

// recognizedStatuses is the closed set of upstream HTTP statuses
// ReportError will act on; anything else is silently declined.
var recognizedStatuses = map[int]bool{429: true, 500: true, 503: true, 529: true, 404: true}

// RateLimitInfo is the lockout state recorded for one account (or
// account+model pair): when it clears, why it was set, and what the
// caller was told at the time.
type RateLimitInfo struct {
	LockedUntil   time.Time
	RetryAfterSec uint64
	DetectedAt    time.Time
	Reason        RateLimitReason
	Model         string
}

// remainingWait returns how many whole seconds remain until LockedUntil,
// as of now. A LockedUntil in the past yields 0.
func (i RateLimitInfo) remainingWait(now time.Time) uint64 {
	if !i.LockedUntil.After(now) {
		return 0
	}
	return uint64(i.LockedUntil.Sub(now).Seconds())
}

// failureStreak is the per-account consecutive-failure counter driving
// escalating backoff schedules.
type failureStreak struct {
	count       int
	lastFailure time.Time
}

// Tracker holds the in-memory lockout and failure-count state for every
// account (and account+model pair) this process has seen an upstream
// error from. All state lives behind a single RWMutex: every operation
// is a handful of map lookups, never worth striping into shards.
type Tracker struct {
	mu       sync.RWMutex
	lockouts map[string]RateLimitInfo
	failures map[string]*failureStreak
	clock    Clock
}

// New constructs an empty Tracker. A nil clock defaults to SystemClock.
func New(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	return &Tracker{
		lockouts: make(map[string]RateLimitInfo),
		failures: make(map[string]*failureStreak),
		clock:    clock,
	}
}

// lockoutKey picks the bare account key for every reason except a
// QuotaExhausted report that names a model, which tracks the quota
// exhaustion against that specific model instead of the whole account.
func lockoutKey(account, model string, reason RateLimitReason) string {
	if reason == ReasonQuotaExhausted && model != "" {
		return account + ":" + model
	}
	return account
}

// RemainingWait returns how many seconds remain before account (for the
// given model, if any) may be retried. It checks the account-wide
// lockout first, then the model-specific one, since a blanket lockout
// on the account always takes precedence over a narrower one.
func (t *Tracker) RemainingWait(account, model string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remainingWaitLocked(account, model)
}

func (t *Tracker) remainingWaitLocked(account, model string) uint64 {
	now := t.clock.Now()
	if info, ok := t.lockouts[account]; ok {
		if wait := info.remainingWait(now); wait > 0 {
			return wait
		}
	}
	if model != "" {
		if info, ok := t.lockouts[account+":"+model]; ok {
			return info.remainingWait(now)
		}
	}
	return 0
}

// IsRateLimited reports whether account (for the given model, if any)
// currently has a non-expired lockout.
func (t *Tracker) IsRateLimited(account, model string) bool {
	return t.RemainingWait(account, model) > 0
}

// ReportError classifies an upstream failure response, computes how
// long the offending account (or account+model pair) should be locked
// out, records that lockout, and returns the info that was stored.
// status is the HTTP status code the upstream responded with;
// retryAfterHeader is the raw Retry-After header value (may be empty);
// body is the raw response body; model may be empty when the caller has
// no model context; schedule is the QuotaExhausted escalation ladder.
//
// ok is false, with no state mutated, when status is outside the
// recognized set {429, 500, 503, 529, 404}.
func (t *Tracker) ReportError(account string, status int, retryAfterHeader string, body string, model string, schedule []uint64) (info RateLimitInfo, ok bool) {
	if !recognizedStatuses[status] {
		return RateLimitInfo{}, false
	}

	var reason RateLimitReason
	if status == 429 {
		reason = ClassifyReason(status, body)
	} else {
		reason = ReasonServerError
	}
	hint, hintOK := ExtractRetryHint(retryAfterHeader, body)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	failureCount := 1
	if !hintOK && reason != ReasonServerError {
		failureCount = t.bumpFailureLocked(account, now)
	}

	lockoutSeconds := ComputeLockout(reason, hint, hintOK, status, failureCount, schedule)

	info = RateLimitInfo{
		LockedUntil:   now.Add(time.Duration(lockoutSeconds) * time.Second),
		RetryAfterSec: lockoutSeconds,
		DetectedAt:    now,
		Reason:        reason,
		Model:         model,
	}
	t.lockouts[lockoutKey(account, model, reason)] = info
	return info, true
}

// bumpFailureLocked increments account's failure streak, first resetting
// it to zero if the previous failure is older than
// failureCountExpirySeconds. Caller must hold t.mu. The failure-count
// key is always the bare account id, never model-scoped: it tracks
// sustained pressure on the account as a whole regardless of which
// model's lockout key absorbs any given event.
func (t *Tracker) bumpFailureLocked(account string, now time.Time) int {
	streak, ok := t.failures[account]
	if !ok {
		streak = &failureStreak{}
		t.failures[account] = streak
	} else if now.Sub(streak.lastFailure) > failureCountExpirySeconds*time.Second {
		streak.count = 0
	}
	streak.count++
	streak.lastFailure = now
	return streak.count
}

// SetLockoutUntil directly sets account's (or account+model's) lockout
// to resetTime, bypassing backoff computation entirely. Used when the
// caller already has an authoritative reset time from upstream.
// RetryAfterSec is resetTime-now, clamped to pastResetFallbackSeconds
// when resetTime is already in the past; LockedUntil is always stored
// as resetTime, unchanged.
func (t *Tracker) SetLockoutUntil(account string, resetTime time.Time, reason RateLimitReason, model string) RateLimitInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	retryAfterSec := uint64(pastResetFallbackSeconds)
	if resetTime.After(now) {
		retryAfterSec = uint64(resetTime.Sub(now).Seconds())
	}

	info := RateLimitInfo{
		LockedUntil:   resetTime,
		RetryAfterSec: retryAfterSec,
		DetectedAt:    now,
		Reason:        reason,
		Model:         model,
	}
	t.lockouts[lockoutKey(account, model, reason)] = info
	return info
}

// SetLockoutUntilISO parses isoString as RFC 3339 and applies it via
// SetLockoutUntil. It returns false (without altering any state) if
// isoString fails to parse.
func (t *Tracker) SetLockoutUntilISO(account, isoString string, reason RateLimitReason, model string) bool {
	parsed, err := time.Parse(time.RFC3339, isoString)
	if err != nil {
		return false
	}
	t.SetLockoutUntil(account, parsed, reason, model)
	return true
}

// MarkSuccess removes account's bare lockout entry and its failure
// count, if present. Model-scoped lockouts are untouched: they are
// orthogonal to whole-account availability, and the tracker does not
// index accounts to the set of models locked under them.
func (t *Tracker) MarkSuccess(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lockouts, account)
	delete(t.failures, account)
}

// Clear removes only account's bare lockout entry and reports whether
// there was one to remove. Failure counts and model-scoped lockouts are
// left alone.
func (t *Tracker) Clear(account string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lockouts[account]; !ok {
		return false
	}
	delete(t.lockouts, account)
	return true
}

// ClearAll wipes every lockout entry, bare and model-scoped alike. An
// optimistic reset for when the proxy suspects the tracked lockout
// state no longer reflects reality. Failure counts are left untouched:
// they record sustained pressure history, not lockout state, and an
// optimistic lockout reset is not grounds to forgive that history.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockouts = make(map[string]RateLimitInfo)
}

// CleanupExpired evicts lockout entries that have already elapsed and
// returns how many were removed. Failure streaks are left alone; they
// expire lazily on next read via bumpFailureLocked.
func (t *Tracker) CleanupExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := 0
	for key, info := range t.lockouts {
		if !info.LockedUntil.After(now) {
			delete(t.lockouts, key)
			removed++
		}
	}
	return removed
}
