// Package scheduler decides, for each active group, whether members should be
// reminded that the current update window is about to close and whether an
// elapsed window should be advanced. The decisions are pure functions of the
// current time and a group snapshot; Runner applies them through a Repository
// and a Dispatcher.
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ReminderLead is how long before a window closes reminders go out
	ReminderLead = time.Hour
	// ReminderTolerance is the allowed distance from ReminderLead, inclusive
	ReminderTolerance = 5 * time.Minute
)

// AdvancePolicy controls how far an overdue deadline moves in one run
type AdvancePolicy string

const (
	// SingleStep moves the deadline by exactly one cadence per run, even if
	// the result is still in the past. Later runs catch up one period at a time.
	SingleStep AdvancePolicy = "single-step"
	// CatchUp moves the deadline to the first window boundary after now.
	CatchUp AdvancePolicy = "catch-up"
)

// ErrMalformedGroup is reported for groups whose cadence is not positive
var ErrMalformedGroup = errors.New("malformed group")

// ParsePolicy validates a policy name; empty means SingleStep
func ParsePolicy(s string) (AdvancePolicy, error) {
	switch AdvancePolicy(s) {
	case "", SingleStep:
		return SingleStep, nil
	case CatchUp:
		return CatchUp, nil
	default:
		return "", fmt.Errorf("unknown advance policy %q", s)
	}
}

// Window returns the half-open interval [due-cadence, due) of the window
// closing at due
func Window(due time.Time, cadence time.Duration) (start, end time.Time) {
	return due.Add(-cadence), due
}

// ReminderDue reports whether a window closing at due closes roughly one hour
// after now: |due - (now + ReminderLead)| <= ReminderTolerance
func ReminderDue(now, due time.Time) bool {
	diff := due.Sub(now.Add(ReminderLead))
	if diff < 0 {
		diff = -diff
	}
	return diff <= ReminderTolerance
}

// NextDeadline returns the deadline that replaces due once now has reached it.
// ok is false while the window is still open. cadence must be positive.
func NextDeadline(now, due time.Time, cadence time.Duration, policy AdvancePolicy) (next time.Time, ok bool) {
	if now.Before(due) {
		return time.Time{}, false
	}
	next = due.Add(cadence)
	if policy == CatchUp && !next.After(now) {
		// smallest k >= 1 with due + k*cadence > now
		periods := now.Sub(due)/cadence + 1
		next = due.Add(periods * cadence)
	}
	return next, true
}

// NonPosters returns the members without an entry in posters, in member
// order and without duplicates
func NonPosters(members, posters []int64) []int64 {
	posted := make(map[int64]struct{}, len(posters))
	for _, id := range posters {
		posted[id] = struct{}{}
	}

	out := make([]int64, 0, len(members))
	for _, id := range members {
		if _, ok := posted[id]; ok {
			continue
		}
		posted[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
