package upstreamlimit

import (
	"testing"
	"time"
)

// fakeClock is a mutable Clock for deterministic tracker tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTracker_ReportErrorWithExplicitHeaderHint(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	if _, ok := tr.ReportError("acct-1", 429, "30", "", "", nil); !ok {
		t.Fatalf("expected status 429 to be recognized")
	}

	wait := tr.RemainingWait("acct-1", "")
	if wait < 26 || wait > 30 {
		t.Fatalf("remaining wait = %d, want within [26,30]", wait)
	}
}

func TestTracker_ReportErrorRejectsUnrecognizedStatus(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	info, ok := tr.ReportError("acct-1", 502, "30", "", "", nil)
	if ok {
		t.Fatalf("expected status 502 to be declined, got %+v", info)
	}
	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("a declined report must not mutate any state")
	}
}

func TestTracker_QuotaExhaustedTracksPerModelNotAccount(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	schedule := []uint64{60}

	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`
	tr.ReportError("acct-1", 429, "", body, "gpt-4", schedule)

	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("bare account should not be locked out by a model-scoped quota exhaustion")
	}
	if !tr.IsRateLimited("acct-1", "gpt-4") {
		t.Fatalf("acct-1/gpt-4 should be locked out")
	}
}

func TestTracker_NonQuotaReasonLocksBareAccount(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	tr.ReportError("acct-1", 429, "", "rate limit per minute exceeded", "gpt-4", nil)

	if !tr.IsRateLimited("acct-1", "") {
		t.Fatalf("bare account should be locked out for a non-quota reason")
	}
	if !tr.IsRateLimited("acct-1", "gpt-4") {
		t.Fatalf("bare account lockout should also apply when a model is queried")
	}
}

func TestTracker_ServerErrorsDoNotPolluteQuotaEscalation(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	schedule := []uint64{60, 300, 900}

	for i := 0; i < 5; i++ {
		info, ok := tr.ReportError("acct-1", 503, "", "internal error", "gpt-4", schedule)
		if !ok {
			t.Fatalf("status 503 should be recognized")
		}
		if info.RetryAfterSec != 8 {
			t.Fatalf("server error #%d: retry_after_sec = %d, want 8", i, info.RetryAfterSec)
		}
		clock.advance(time.Second)
	}

	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`
	info, _ := tr.ReportError("acct-1", 429, "", body, "gpt-4", schedule)

	if info.RetryAfterSec != 60 {
		t.Fatalf("first quota-exhausted failure should use schedule[0]=60s, got retry_after_sec=%d", info.RetryAfterSec)
	}
	wantUntil := clock.now.Add(60 * time.Second)
	if !info.LockedUntil.Equal(wantUntil) {
		t.Fatalf("locked until %v, want %v", info.LockedUntil, wantUntil)
	}
}

func TestTracker_ConsecutiveQuotaExhaustedEscalates(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	schedule := []uint64{60, 300, 900, 3600}
	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`

	want := []uint64{60, 300, 900, 3600}
	for i, w := range want {
		info, _ := tr.ReportError("acct-1", 429, "", body, "gpt-4", schedule)
		gotWait := uint64(info.LockedUntil.Sub(clock.now).Seconds())
		if gotWait != w {
			t.Fatalf("failure #%d: wait = %d, want %d", i+1, gotWait, w)
		}
		clock.advance(time.Duration(w) * time.Second)
	}
}

func TestTracker_MarkSuccessClearsAccountButNotModelScopedLockouts(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`

	tr.ReportError("acct-1", 429, "", body, "gpt-4", []uint64{60})
	tr.ReportError("acct-1", 429, "", "rate limit per minute", "", nil)

	tr.MarkSuccess("acct-1")

	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("account-scoped lockout should be cleared by MarkSuccess")
	}
	if !tr.IsRateLimited("acct-1", "gpt-4") {
		t.Fatalf("model-scoped lockout must survive MarkSuccess: it is orthogonal to account-wide availability")
	}
}

func TestTracker_MarkSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	schedule := []uint64{60, 300, 900}
	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`

	tr.ReportError("acct-1", 429, "", body, "", schedule)
	tr.ReportError("acct-1", 429, "", body, "", schedule)
	tr.MarkSuccess("acct-1")

	info, _ := tr.ReportError("acct-1", 429, "", body, "", schedule)
	if info.RetryAfterSec != schedule[0] {
		t.Fatalf("after MarkSuccess the next quota-exhausted lockout should restart at schedule[0]=%d, got %d", schedule[0], info.RetryAfterSec)
	}
}

func TestTracker_ClearRemovesOnlyBareAccountLockout(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`

	tr.ReportError("acct-1", 429, "", body, "gpt-4", []uint64{60})
	tr.ReportError("acct-1", 429, "", "rate limit per minute", "", nil)

	if removed := tr.Clear("acct-1"); !removed {
		t.Fatalf("expected bare account-scoped lockout to exist and be removed")
	}
	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("bare account lockout should be gone after Clear")
	}
	if !tr.IsRateLimited("acct-1", "gpt-4") {
		t.Fatalf("Clear must not touch model-scoped lockouts")
	}

	if removed := tr.Clear("acct-1"); removed {
		t.Fatalf("second Clear on an already-clear account should report false")
	}
}

func TestTracker_SetLockoutUntilISO(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	future := clock.now.Add(5 * time.Minute).Format(time.RFC3339)
	if ok := tr.SetLockoutUntilISO("acct-1", future, ReasonRateLimitExceeded, ""); !ok {
		t.Fatalf("expected valid ISO timestamp to parse")
	}
	if !tr.IsRateLimited("acct-1", "") {
		t.Fatalf("expected acct-1 to be locked out after SetLockoutUntilISO")
	}

	if ok := tr.SetLockoutUntilISO("acct-2", "not-a-timestamp", ReasonRateLimitExceeded, ""); ok {
		t.Fatalf("expected malformed ISO timestamp to fail")
	}
}

func TestTracker_SetLockoutUntilPastResetClampsRetryAfterButKeepsResetTime(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	past := clock.now.Add(-5 * time.Minute)
	info := tr.SetLockoutUntil("acct-1", past, ReasonQuotaExhausted, "")

	if info.RetryAfterSec != 60 {
		t.Fatalf("retry_after_sec should clamp to 60 for an already-past reset time, got %d", info.RetryAfterSec)
	}
	if !info.LockedUntil.Equal(past) {
		t.Fatalf("reset_time must be stored unchanged, got %v want %v", info.LockedUntil, past)
	}
	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("a reset_time already in the past must read as immediately expired")
	}
}

func TestTracker_CleanupExpiredRemovesElapsedLockouts(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	tr.ReportError("acct-1", 429, "1", "", "", nil)
	clock.advance(5 * time.Second)

	removed := tr.CleanupExpired()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("expired lockout should be gone after cleanup")
	}
}

func TestTracker_ClearAll(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)

	tr.ReportError("acct-1", 429, "30", "", "", nil)
	tr.ReportError("acct-2", 429, "30", "", "", nil)

	tr.ClearAll()

	if tr.IsRateLimited("acct-1", "") || tr.IsRateLimited("acct-2", "") {
		t.Fatalf("expected all accounts cleared")
	}
}

func TestTracker_ClearAllPreservesFailureCounts(t *testing.T) {
	clock := newFakeClock()
	tr := New(clock)
	schedule := []uint64{60, 300, 900}
	body := `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`

	tr.ReportError("acct-1", 429, "", body, "", schedule)
	tr.ReportError("acct-1", 429, "", body, "", schedule)

	tr.ClearAll()

	if tr.IsRateLimited("acct-1", "") {
		t.Fatalf("expected lockout cleared by ClearAll")
	}

	info, _ := tr.ReportError("acct-1", 429, "", body, "", schedule)
	if info.RetryAfterSec != schedule[2] {
		t.Fatalf("ClearAll must not reset the failure streak: expected escalation to continue at schedule[2]=%d, got %d", schedule[2], info.RetryAfterSec)
	}
}
