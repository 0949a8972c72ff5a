package scheduler

import (
	"context"
	"fmt"
	"time"

	"cactus/internal/models"
)

// PostLookup returns the distinct ids of members who posted in a group with a
// timestamp in [from, to)
type PostLookup func(ctx context.Context, groupID int64, from, to time.Time) ([]int64, error)

// SkipReason explains why a group got no plan
type SkipReason string

const (
	SkipInactive     SkipReason = "inactive"
	SkipNoDeadline   SkipReason = "no_deadline"
	SkipMalformed    SkipReason = "malformed"
	// SkipLookupFailed only drops the reminder; advancement still applies
	SkipLookupFailed SkipReason = "lookup_failed"
)

// Reminder is emitted for a window about to close with members who have not posted
type Reminder struct {
	GroupID     int64     `json:"group_id"`
	GroupName   string    `json:"group_name"`
	GroupEmoji  string    `json:"group_emoji"`
	NonPosters  []int64   `json:"non_posters"`
	WindowStart time.Time `json:"window_start"`
	ClosesAt    time.Time `json:"closes_at"`
}

// Advancement moves a group's deadline from From to To
type Advancement struct {
	GroupID   int64     `json:"group_id"`
	GroupName string    `json:"group_name"`
	From      time.Time `json:"old_deadline"`
	To        time.Time `json:"new_deadline"`
}

// GroupPlan is what should happen to one group in this run. Reminder and
// Advancement are independent: a failed post lookup clears only Reminder.
type GroupPlan struct {
	GroupID     int64
	Skip        SkipReason
	Reminder    *Reminder
	Advancement *Advancement
	LookupErr   error
}

// SkippedGroup records a group left out of a batch plan
type SkippedGroup struct {
	GroupID int64
	Reason  SkipReason
	Err     error
}

// Plan is the outcome of ComputeBatchActions
type Plan struct {
	Reminders    []Reminder
	Advancements []Advancement
	Skipped      []SkippedGroup
}

// PlanGroup decides both operations for g from the snapshot it was given.
// The reminder always describes the window closing at the snapshot's
// UpdatesDue, never one advanced in the same pass. lookup is only called when
// a reminder is due.
func PlanGroup(ctx context.Context, now time.Time, g models.Group, lookup PostLookup, policy AdvancePolicy) GroupPlan {
	plan := GroupPlan{GroupID: g.ID}

	if !g.IsActive {
		plan.Skip = SkipInactive
		return plan
	}
	if g.CadenceHrs <= 0 {
		plan.Skip = SkipMalformed
		return plan
	}
	if g.UpdatesDue == nil {
		plan.Skip = SkipNoDeadline
		return plan
	}

	due := *g.UpdatesDue
	cadence := g.Cadence()

	if ReminderDue(now, due) {
		start, end := Window(due, cadence)
		posters, err := lookup(ctx, g.ID, start, end)
		if err != nil {
			plan.LookupErr = fmt.Errorf("failed to list posters for group %d: %w", g.ID, err)
		} else if missing := NonPosters(g.Members, posters); len(missing) > 0 {
			plan.Reminder = &Reminder{
				GroupID:     g.ID,
				GroupName:   g.Name,
				GroupEmoji:  g.Icon(),
				NonPosters:  missing,
				WindowStart: start,
				ClosesAt:    end,
			}
		}
	}

	if next, ok := NextDeadline(now, due, cadence, policy); ok {
		plan.Advancement = &Advancement{
			GroupID:   g.ID,
			GroupName: g.Name,
			From:      due,
			To:        next,
		}
	}

	return plan
}

// ComputeBatchActions plans every group of a batch against the same now
func ComputeBatchActions(ctx context.Context, now time.Time, groups []models.Group, lookup PostLookup, policy AdvancePolicy) Plan {
	var out Plan
	for _, g := range groups {
		p := PlanGroup(ctx, now, g, lookup, policy)
		switch {
		case p.Skip == SkipMalformed:
			out.Skipped = append(out.Skipped, SkippedGroup{
				GroupID: g.ID,
				Reason:  p.Skip,
				Err:     fmt.Errorf("group %d cadence_hrs=%d: %w", g.ID, g.CadenceHrs, ErrMalformedGroup),
			})
			continue
		case p.Skip != "":
			out.Skipped = append(out.Skipped, SkippedGroup{GroupID: g.ID, Reason: p.Skip})
			continue
		}
		if p.Reminder != nil {
			out.Reminders = append(out.Reminders, *p.Reminder)
		}
		if p.Advancement != nil {
			out.Advancements = append(out.Advancements, *p.Advancement)
		}
		if p.LookupErr != nil {
			out.Skipped = append(out.Skipped, SkippedGroup{GroupID: g.ID, Reason: SkipLookupFailed, Err: p.LookupErr})
		}
	}
	return out
}
