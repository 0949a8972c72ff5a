package scheduler

import (
	"reflect"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("time.Parse(%q): %v", s, err)
	}
	return v
}

func TestReminderDue(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	tests := []struct {
		name string
		now  string
		want bool
	}{
		{name: "exactly one hour before", now: "2024-10-26T14:00:00Z", want: true},
		{name: "tolerance early edge", now: "2024-10-26T13:55:00Z", want: true},
		{name: "tolerance late edge", now: "2024-10-26T14:05:00Z", want: true},
		{name: "just outside early", now: "2024-10-26T13:54:59Z", want: false},
		{name: "just outside late", now: "2024-10-26T14:05:01Z", want: false},
		{name: "window already closed", now: "2024-10-26T15:00:01Z", want: false},
		{name: "a day early", now: "2024-10-25T14:00:00Z", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReminderDue(mustTime(t, tt.now), due); got != tt.want {
				t.Fatalf("ReminderDue(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	start, end := Window(due, 24*time.Hour)
	if want := mustTime(t, "2024-10-25T15:00:00Z"); !start.Equal(want) {
		t.Fatalf("start = %v, want %v", start, want)
	}
	if !end.Equal(due) {
		t.Fatalf("end = %v, want %v", end, due)
	}
}

func TestNextDeadline(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	day := 24 * time.Hour
	tests := []struct {
		name   string
		now    string
		policy AdvancePolicy
		want   string
		ok     bool
	}{
		{name: "window open", now: "2024-10-26T14:59:59Z", policy: SingleStep, ok: false},
		{name: "exactly at deadline", now: "2024-10-26T15:00:00Z", policy: SingleStep, want: "2024-10-27T15:00:00Z", ok: true},
		{name: "one second past", now: "2024-10-26T15:00:01Z", policy: SingleStep, want: "2024-10-27T15:00:00Z", ok: true},
		{name: "three periods missed single step", now: "2024-10-29T16:00:00Z", policy: SingleStep, want: "2024-10-27T15:00:00Z", ok: true},
		{name: "one period missed catch up", now: "2024-10-26T16:00:00Z", policy: CatchUp, want: "2024-10-27T15:00:00Z", ok: true},
		{name: "three periods missed catch up", now: "2024-10-29T16:00:00Z", policy: CatchUp, want: "2024-10-30T15:00:00Z", ok: true},
		{name: "catch up landing on boundary", now: "2024-10-28T15:00:00Z", policy: CatchUp, want: "2024-10-29T15:00:00Z", ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextDeadline(mustTime(t, tt.now), due, day, tt.policy)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if want := mustTime(t, tt.want); !got.Equal(want) {
				t.Fatalf("NextDeadline = %v, want %v", got, want)
			}
		})
	}
}

func TestNonPosters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		members []int64
		posters []int64
		want    []int64
	}{
		{name: "one poster", members: []int64{1, 2, 3}, posters: []int64{1}, want: []int64{2, 3}},
		{name: "everyone posted", members: []int64{1, 2}, posters: []int64{2, 1}, want: []int64{}},
		{name: "nobody posted", members: []int64{3, 1}, posters: nil, want: []int64{3, 1}},
		{name: "poster not a member", members: []int64{1}, posters: []int64{9}, want: []int64{1}},
		{name: "duplicate members", members: []int64{1, 2, 2}, posters: []int64{1, 1}, want: []int64{2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NonPosters(tt.members, tt.posters); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("NonPosters = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]AdvancePolicy{"": SingleStep, "single-step": SingleStep, "catch-up": CatchUp} {
		got, err := ParsePolicy(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := ParsePolicy("forever"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
