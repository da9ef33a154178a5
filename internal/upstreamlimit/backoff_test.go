package upstreamlimit

import "testing"

func TestComputeLockout_HintWins(t *testing.T) {
	cases := []struct {
		name   string
		hint   uint64
		status int
		want   uint64
	}{
		{name: "hint above floor passes through", hint: 30, want: 30},
		{name: "hint below floor clamps up", hint: 1, want: safetyFloorSeconds},
		{name: "zero hint clamps up", hint: 0, want: safetyFloorSeconds},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ComputeLockout(ReasonUnknown, c.hint, true, c.status, 1, nil)
			if got != c.want {
				t.Fatalf("ComputeLockout hint=%d = %d, want %d", c.hint, got, c.want)
			}
		})
	}
}

func TestComputeLockout_QuotaExhaustedSchedule(t *testing.T) {
	schedule := []uint64{60, 300, 900, 3600}

	cases := []struct {
		failureCount int
		want         uint64
	}{
		{failureCount: 1, want: 60},
		{failureCount: 2, want: 300},
		{failureCount: 3, want: 900},
		{failureCount: 4, want: 3600},
		{failureCount: 9, want: 3600}, // clamps to last rung once exhausted
	}
	for _, c := range cases {
		got := ComputeLockout(ReasonQuotaExhausted, 0, false, 429, c.failureCount, schedule)
		if got != c.want {
			t.Fatalf("failureCount=%d: got %d, want %d", c.failureCount, got, c.want)
		}
	}
}

func TestComputeLockout_QuotaExhaustedNoScheduleDefaultsTwoHours(t *testing.T) {
	got := ComputeLockout(ReasonQuotaExhausted, 0, false, 429, 1, nil)
	if got != 7200 {
		t.Fatalf("got %d, want 7200", got)
	}
}

func TestComputeLockout_RateLimitExceededFixed(t *testing.T) {
	got := ComputeLockout(ReasonRateLimitExceeded, 0, false, 429, 5, nil)
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestComputeLockout_ModelCapacityEscalates(t *testing.T) {
	cases := []struct {
		failureCount int
		want         uint64
	}{
		{failureCount: 1, want: 5},
		{failureCount: 2, want: 10},
		{failureCount: 3, want: 15},
		{failureCount: 8, want: 15},
	}
	for _, c := range cases {
		got := ComputeLockout(ReasonModelCapacityExhausted, 0, false, 429, c.failureCount, nil)
		if got != c.want {
			t.Fatalf("failureCount=%d: got %d, want %d", c.failureCount, got, c.want)
		}
	}
}

func TestComputeLockout_ServerErrorSplitsOn404(t *testing.T) {
	if got := ComputeLockout(ReasonServerError, 0, false, 404, 1, nil); got != 5 {
		t.Fatalf("404: got %d, want 5", got)
	}
	if got := ComputeLockout(ReasonServerError, 0, false, 503, 1, nil); got != 8 {
		t.Fatalf("503: got %d, want 8", got)
	}
}

func TestComputeLockout_UnknownFixed(t *testing.T) {
	if got := ComputeLockout(ReasonUnknown, 0, false, 500, 1, nil); got != 60 {
		t.Fatalf("got %d, want 60", got)
	}
}
