package budget

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableClient returns a client pointing at a port nothing listens on,
// with timeouts short enough to keep tests fast.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		ReadTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestWeekKey(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		// ISO weeks start on Monday; year boundaries belong to the week's year.
		{time.Date(2025, 7, 9, 12, 0, 0, 0, time.UTC), "2025-W28"},
		{time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), "2025-W01"},
		{time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "2020-W53"},
	}
	for _, tc := range cases {
		if got := weekKey(tc.date); got != tc.want {
			t.Errorf("weekKey(%s) = %q, want %q", tc.date.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestWeeklyResetKeyScoping(t *testing.T) {
	// Consumption in week W must be invisible to week W+1: the keys differ.
	l := NewLedger("youtube", nil, 0)
	w1 := weekKey(time.Date(2025, 7, 9, 0, 0, 0, 0, time.UTC))
	w2 := weekKey(time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC))
	if l.key("gemini_script", w1) == l.key("gemini_script", w2) {
		t.Fatal("expected distinct keys across week boundary")
	}
}

func TestCostDefaults(t *testing.T) {
	l := NewLedger("youtube", nil, 0)

	if got := l.Cost("gemini_script"); got != 50 {
		t.Errorf("expected gemini_script cost 50, got %d", got)
	}
	if got := l.Cost("unknown_api"); got != 1 {
		t.Errorf("expected unknown operation cost 1, got %d", got)
	}

	l.SetCosts(map[string]int64{"gemini_script": 75, "new_api": 3})
	if got := l.Cost("gemini_script"); got != 75 {
		t.Errorf("expected overridden cost 75, got %d", got)
	}
	if got := l.Cost("new_api"); got != 3 {
		t.Errorf("expected new operation cost 3, got %d", got)
	}
	// Overrides merge; untouched entries keep their defaults.
	if got := l.Cost("rawg_fetch"); got != 2 {
		t.Errorf("expected rawg_fetch cost 2, got %d", got)
	}
}

func TestPermissiveModeNilClient(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("youtube", nil, 0)
	l.SetLimit(100)

	if !l.CheckAndConsume(ctx, "gemini_script", 0) {
		t.Fatal("expected permissive allow with nil client")
	}
	if !l.Check(ctx, "gemini_script", 0) {
		t.Fatal("expected permissive dry-run allow with nil client")
	}
	if got := l.Used(ctx); got != 0 {
		t.Errorf("expected used 0 in permissive mode, got %d", got)
	}
	if got := l.Remaining(ctx); got != 100 {
		t.Errorf("expected full limit remaining in permissive mode, got %d", got)
	}
}

func TestPermissiveModeUnreachableRedis(t *testing.T) {
	ctx := context.Background()
	client := unreachableClient()
	defer client.Close()

	l := NewLedger("youtube", client, 200*time.Millisecond)
	l.SetLimit(100)

	// Every operation degrades to allow; nothing panics or propagates.
	if !l.CheckAndConsume(ctx, "gemini_script", 50) {
		t.Fatal("expected permissive allow with unreachable redis")
	}
	if !l.Check(ctx, "gemini_script", 50) {
		t.Fatal("expected permissive dry-run allow with unreachable redis")
	}
	if got := l.Remaining(ctx); got != 100 {
		t.Errorf("expected full limit remaining, got %d", got)
	}

	report := l.Report(ctx)
	if report.Total != 0 || report.Remaining != 100 {
		t.Errorf("unexpected report under outage: %+v", report)
	}
}

func TestExhaustedError(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("youtube", nil, 0)
	l.SetLimit(100)

	err := l.Exhausted(ctx, "gemini_script", 0)
	if err.Platform != "youtube" || err.Operation != "gemini_script" {
		t.Errorf("unexpected denial context: %+v", err)
	}
	if err.Requested != 50 {
		t.Errorf("expected default cost 50 requested, got %d", err.Requested)
	}
	msg := err.Error()
	if !strings.Contains(msg, "youtube/gemini_script") || !strings.Contains(msg, "50") {
		t.Errorf("denial message missing context: %q", msg)
	}
}

func TestFormatStatus(t *testing.T) {
	ctx := context.Background()

	l := NewLedger("youtube", nil, 0)
	if got := l.FormatStatus(ctx); !strings.Contains(got, "unlimited") {
		t.Errorf("expected unlimited status, got %q", got)
	}

	l.SetLimit(2000)
	got := l.FormatStatus(ctx)
	if !strings.Contains(got, "Youtube") {
		t.Errorf("expected platform name in status, got %q", got)
	}
	if !strings.Contains(got, "0/2000") {
		t.Errorf("expected 0/2000 spend in status, got %q", got)
	}
	if !strings.Contains(got, "🟢") {
		t.Errorf("expected green indicator at 0%%, got %q", got)
	}
}
