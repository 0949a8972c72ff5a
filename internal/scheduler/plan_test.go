package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cactus/internal/models"
)

type lookupCall struct {
	groupID  int64
	from, to time.Time
}

type fakeLookup struct {
	posters map[int64][]int64
	err     error
	calls   []lookupCall
}

func (f *fakeLookup) lookup(ctx context.Context, groupID int64, from, to time.Time) ([]int64, error) {
	f.calls = append(f.calls, lookupCall{groupID: groupID, from: from, to: to})
	if f.err != nil {
		return nil, f.err
	}
	return f.posters[groupID], nil
}

func group(id int64, cadence int, due *time.Time, members ...int64) models.Group {
	return models.Group{
		ID:         id,
		Name:       "runners",
		IsActive:   true,
		CadenceHrs: cadence,
		UpdatesDue: due,
		Members:    members,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestPlanGroupReminderScenario(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	now := mustTime(t, "2024-10-26T14:00:00Z")
	f := &fakeLookup{posters: map[int64][]int64{7: {1}}}

	plan := PlanGroup(context.Background(), now, group(7, 24, timePtr(due), 1, 2, 3), f.lookup, SingleStep)

	if plan.Skip != "" {
		t.Fatalf("Skip = %q, want none", plan.Skip)
	}
	if plan.Reminder == nil {
		t.Fatal("expected a reminder")
	}
	if want := []int64{2, 3}; !reflect.DeepEqual(plan.Reminder.NonPosters, want) {
		t.Fatalf("NonPosters = %v, want %v", plan.Reminder.NonPosters, want)
	}
	if len(f.calls) != 1 {
		t.Fatalf("lookup calls = %d, want 1", len(f.calls))
	}
	call := f.calls[0]
	if !call.from.Equal(mustTime(t, "2024-10-25T15:00:00Z")) || !call.to.Equal(due) {
		t.Fatalf("lookup window = [%v, %v), want [2024-10-25T15:00, 2024-10-26T15:00)", call.from, call.to)
	}
	if plan.Reminder.GroupEmoji != models.DefaultGroupEmoji {
		t.Fatalf("GroupEmoji = %q, want default", plan.Reminder.GroupEmoji)
	}
	if plan.Advancement != nil {
		t.Fatalf("unexpected advancement %+v", plan.Advancement)
	}
}

func TestPlanGroupAdvanceScenario(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	now := mustTime(t, "2024-10-26T15:00:01Z")
	f := &fakeLookup{}

	plan := PlanGroup(context.Background(), now, group(7, 24, timePtr(due), 1), f.lookup, SingleStep)

	if plan.Reminder != nil {
		t.Fatalf("unexpected reminder %+v", plan.Reminder)
	}
	if len(f.calls) != 0 {
		t.Fatalf("lookup called %d times, want 0", len(f.calls))
	}
	if plan.Advancement == nil {
		t.Fatal("expected an advancement")
	}
	if want := mustTime(t, "2024-10-27T15:00:00Z"); !plan.Advancement.To.Equal(want) {
		t.Fatalf("To = %v, want %v", plan.Advancement.To, want)
	}
	if !plan.Advancement.From.Equal(due) {
		t.Fatalf("From = %v, want %v", plan.Advancement.From, due)
	}
}

func TestPlanGroupSkips(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2024-10-26T14:00:00Z")
	due := mustTime(t, "2024-10-26T15:00:00Z")
	past := mustTime(t, "2024-10-20T15:00:00Z")

	inactive := group(1, 24, timePtr(due), 1)
	inactive.IsActive = false
	inactivePast := group(2, 24, timePtr(past), 1)
	inactivePast.IsActive = false

	tests := []struct {
		name string
		g    models.Group
		want SkipReason
	}{
		{name: "inactive closing soon", g: inactive, want: SkipInactive},
		{name: "inactive overdue", g: inactivePast, want: SkipInactive},
		{name: "no deadline", g: group(3, 24, nil, 1), want: SkipNoDeadline},
		{name: "zero cadence", g: group(4, 0, timePtr(due), 1), want: SkipMalformed},
		{name: "negative cadence overdue", g: group(5, -6, timePtr(past), 1), want: SkipMalformed},
		{name: "zero cadence without deadline", g: group(6, 0, nil, 1), want: SkipMalformed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeLookup{}
			plan := PlanGroup(context.Background(), now, tt.g, f.lookup, SingleStep)
			if plan.Skip != tt.want {
				t.Fatalf("Skip = %q, want %q", plan.Skip, tt.want)
			}
			if plan.Reminder != nil || plan.Advancement != nil {
				t.Fatalf("skipped group produced actions: %+v", plan)
			}
			if len(f.calls) != 0 {
				t.Fatalf("lookup called %d times for skipped group", len(f.calls))
			}
		})
	}
}

func TestPlanGroupEveryonePosted(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	now := mustTime(t, "2024-10-26T14:02:00Z")
	f := &fakeLookup{posters: map[int64][]int64{1: {1, 2}}}

	plan := PlanGroup(context.Background(), now, group(1, 24, timePtr(due), 1, 2), f.lookup, SingleStep)
	if plan.Reminder != nil {
		t.Fatalf("unexpected reminder %+v", plan.Reminder)
	}
	if plan.LookupErr != nil {
		t.Fatalf("unexpected error %v", plan.LookupErr)
	}
}

func TestPlanGroupLookupFailure(t *testing.T) {
	t.Parallel()
	due := mustTime(t, "2024-10-26T15:00:00Z")
	now := mustTime(t, "2024-10-26T14:00:00Z")
	boom := errors.New("connection refused")
	f := &fakeLookup{err: boom}

	plan := PlanGroup(context.Background(), now, group(1, 24, timePtr(due), 1), f.lookup, SingleStep)
	if !errors.Is(plan.LookupErr, boom) {
		t.Fatalf("LookupErr = %v, want wrapped %v", plan.LookupErr, boom)
	}
	if plan.Reminder != nil {
		t.Fatal("reminder must be dropped when the lookup fails")
	}
}

func TestComputeBatchActions(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2024-10-26T14:00:00Z")
	closing := mustTime(t, "2024-10-26T15:00:00Z")
	overdue := mustTime(t, "2024-10-26T12:00:00Z")
	later := mustTime(t, "2024-10-27T15:00:00Z")

	inactive := group(5, 24, timePtr(overdue), 1)
	inactive.IsActive = false

	groups := []models.Group{
		group(1, 24, timePtr(closing), 1, 2, 3),
		group(2, 12, timePtr(overdue), 4),
		group(3, 24, timePtr(later), 5),
		group(4, 0, timePtr(overdue), 6),
		inactive,
		group(6, 24, nil, 7),
	}
	f := &fakeLookup{posters: map[int64][]int64{1: {3}}}

	plan := ComputeBatchActions(context.Background(), now, groups, f.lookup, SingleStep)

	if len(plan.Reminders) != 1 || plan.Reminders[0].GroupID != 1 {
		t.Fatalf("Reminders = %+v, want one for group 1", plan.Reminders)
	}
	if want := []int64{1, 2}; !reflect.DeepEqual(plan.Reminders[0].NonPosters, want) {
		t.Fatalf("NonPosters = %v, want %v", plan.Reminders[0].NonPosters, want)
	}
	if len(plan.Advancements) != 1 || plan.Advancements[0].GroupID != 2 {
		t.Fatalf("Advancements = %+v, want one for group 2", plan.Advancements)
	}
	if want := mustTime(t, "2024-10-27T00:00:00Z"); !plan.Advancements[0].To.Equal(want) {
		t.Fatalf("To = %v, want %v", plan.Advancements[0].To, want)
	}

	reasons := map[int64]SkipReason{}
	for _, s := range plan.Skipped {
		reasons[s.GroupID] = s.Reason
	}
	want := map[int64]SkipReason{4: SkipMalformed, 5: SkipInactive, 6: SkipNoDeadline}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("Skipped = %v, want %v", reasons, want)
	}
	for _, s := range plan.Skipped {
		if s.Reason == SkipMalformed && !errors.Is(s.Err, ErrMalformedGroup) {
			t.Fatalf("malformed skip err = %v, want ErrMalformedGroup", s.Err)
		}
	}
}

func TestReminderHourlyCadence(t *testing.T) {
	t.Parallel()
	// with a 1h cadence the reminder fires as the window opens
	now := mustTime(t, "2024-10-26T14:00:00Z")
	due := mustTime(t, "2024-10-26T15:00:00Z")
	f := &fakeLookup{}

	plan := PlanGroup(context.Background(), now, group(1, 1, timePtr(due), 1), f.lookup, CatchUp)
	if plan.Reminder == nil {
		t.Fatal("expected reminder")
	}
	if !plan.Reminder.ClosesAt.Equal(due) {
		t.Fatalf("ClosesAt = %v, want %v", plan.Reminder.ClosesAt, due)
	}
	if !plan.Reminder.WindowStart.Equal(now) {
		t.Fatalf("WindowStart = %v, want %v", plan.Reminder.WindowStart, now)
	}
}
