package indexing

import (
	"strings"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: 0},
		{attempt: 0, want: 0},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
	}
	for _, tc := range cases {
		if got := ExponentialBackoff(tc.attempt); got != tc.want {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	if got := truncateError(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("x", maxStoredErrorLen+50)
	got := truncateError(long)
	if len([]rune(got)) != maxStoredErrorLen+1 {
		t.Errorf("truncated length = %d runes, want %d", len([]rune(got)), maxStoredErrorLen+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated message missing ellipsis: %q", got[len(got)-10:])
	}
}
