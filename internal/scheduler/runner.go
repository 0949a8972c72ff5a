package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cactus/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Repository is the data store the runner reads groups and posts from and
// writes deadlines and reminder records to
type Repository interface {
	ListActiveGroups(ctx context.Context) ([]models.Group, error)
	ListPosters(ctx context.Context, groupID int64, from, to time.Time) ([]int64, error)
	// AdvanceDeadline sets updates_due to `to` only if it still equals `from`.
	// It returns false when another writer got there first.
	AdvanceDeadline(ctx context.Context, groupID int64, from, to time.Time) (bool, error)
	ReminderRecorded(ctx context.Context, groupID int64, closesAt time.Time) (bool, error)
	RecordReminder(ctx context.Context, groupID int64, closesAt time.Time, userIDs []int64) error
}

// DispatchResult counts what a Dispatcher delivered for one reminder
type DispatchResult struct {
	PushSent int
	InApp    int
	Emailed  int
}

// Dispatcher delivers a reminder to the non-posters of a group
type Dispatcher interface {
	Dispatch(ctx context.Context, r Reminder) (DispatchResult, error)
}

// Clock is the time source for a run
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Options tune a Runner
type Options struct {
	Workers      int
	GroupTimeout time.Duration
	Policy       AdvancePolicy
	Clock        Clock
}

// ReminderResult is one delivered reminder in a Summary
type ReminderResult struct {
	GroupID       int64     `json:"group_id"`
	GroupName     string    `json:"group_name"`
	UsersNotified int       `json:"users_notified"`
	PushSent      int       `json:"push_sent"`
	InApp         int       `json:"in_app"`
	Emailed       int       `json:"emailed"`
	ClosesAt      time.Time `json:"closes_at"`
}

// Summary describes one run for logs and the job endpoint response
type Summary struct {
	RunID              string           `json:"run_id"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
	Policy             AdvancePolicy    `json:"advance_policy"`
	GroupsChecked      int              `json:"groups_checked"`
	RemindersSent      []ReminderResult `json:"reminders_sent"`
	RemindersDuplicate int              `json:"reminders_duplicate"`
	WindowsAdvanced    []Advancement    `json:"windows_advanced"`
	AdvanceConflicts   int              `json:"advance_conflicts"`
	GroupsSkipped      int              `json:"groups_skipped"`
	GroupsFailed       int              `json:"groups_failed"`
	Errors             []string         `json:"errors,omitempty"`
}

type groupOutcome struct {
	skipped   bool
	reminder  *ReminderResult
	duplicate bool
	advanced  *Advancement
	conflict  bool
	errs      []error
}

// Runner executes one scheduler pass over all active groups
type Runner struct {
	repo       Repository
	dispatcher Dispatcher
	log        zerolog.Logger
	opts       Options
}

func NewRunner(repo Repository, dispatcher Dispatcher, log zerolog.Logger, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.GroupTimeout <= 0 {
		opts.GroupTimeout = 30 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = SingleStep
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &Runner{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log,
		opts:       opts,
	}
}

// Run reads the clock once, lists active groups and processes each group
// independently. Only a failure to list groups fails the run; everything
// else is counted in the Summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	now := r.opts.Clock.Now().UTC()
	summary := Summary{
		RunID:           uuid.NewString(),
		StartedAt:       now,
		Policy:          r.opts.Policy,
		RemindersSent:   []ReminderResult{},
		WindowsAdvanced: []Advancement{},
	}
	log := r.log.With().Str("run_id", summary.RunID).Logger()

	groups, err := r.repo.ListActiveGroups(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch active groups")
		return summary, fmt.Errorf("failed to list active groups: %w", err)
	}
	summary.GroupsChecked = len(groups)
	log.Info().Int("groups", len(groups)).Time("now", now).Msg("starting update reminder check")

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(r.opts.Workers)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			outcome := r.processGroup(ctx, log, now, g)
			mu.Lock()
			summary.add(g.ID, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(summary.RemindersSent, func(i, j int) bool {
		return summary.RemindersSent[i].GroupID < summary.RemindersSent[j].GroupID
	})
	sort.Slice(summary.WindowsAdvanced, func(i, j int) bool {
		return summary.WindowsAdvanced[i].GroupID < summary.WindowsAdvanced[j].GroupID
	})
	summary.FinishedAt = r.opts.Clock.Now().UTC()

	log.Info().
		Int("groups_checked", summary.GroupsChecked).
		Int("reminders_sent", len(summary.RemindersSent)).
		Int("windows_advanced", len(summary.WindowsAdvanced)).
		Int("groups_skipped", summary.GroupsSkipped).
		Int("groups_failed", summary.GroupsFailed).
		Msg("update reminder check completed")
	return summary, nil
}

func (s *Summary) add(groupID int64, o groupOutcome) {
	if o.skipped {
		s.GroupsSkipped++
	}
	if o.reminder != nil {
		s.RemindersSent = append(s.RemindersSent, *o.reminder)
	}
	if o.duplicate {
		s.RemindersDuplicate++
	}
	if o.advanced != nil {
		s.WindowsAdvanced = append(s.WindowsAdvanced, *o.advanced)
	}
	if o.conflict {
		s.AdvanceConflicts++
	}
	if len(o.errs) > 0 {
		s.GroupsFailed++
		for _, err := range o.errs {
			s.Errors = append(s.Errors, fmt.Sprintf("group %d: %v", groupID, err))
		}
	}
}

func (r *Runner) processGroup(ctx context.Context, log zerolog.Logger, now time.Time, g models.Group) groupOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.opts.GroupTimeout)
	defer cancel()

	log = log.With().Int64("group_id", g.ID).Logger()
	var out groupOutcome

	plan := PlanGroup(ctx, now, g, r.repo.ListPosters, r.opts.Policy)
	switch plan.Skip {
	case "":
	case SkipMalformed:
		log.Warn().Int("cadence_hrs", g.CadenceHrs).Err(ErrMalformedGroup).Msg("skipping group with invalid cadence")
		out.skipped = true
		return out
	default:
		log.Debug().Str("reason", string(plan.Skip)).Msg("skipping group")
		out.skipped = true
		return out
	}

	if plan.LookupErr != nil {
		log.Error().Err(plan.LookupErr).Msg("failed to fetch updates for group")
		out.errs = append(out.errs, plan.LookupErr)
	}

	if plan.Reminder != nil {
		res, duplicate, err := r.remind(ctx, log, *plan.Reminder)
		switch {
		case err != nil:
			out.errs = append(out.errs, err)
		case duplicate:
			out.duplicate = true
		default:
			out.reminder = res
		}
	}

	if plan.Advancement != nil {
		adv := *plan.Advancement
		ok, err := r.repo.AdvanceDeadline(ctx, adv.GroupID, adv.From, adv.To)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("failed to advance update window")
			out.errs = append(out.errs, fmt.Errorf("failed to advance deadline: %w", err))
		case !ok:
			log.Warn().Time("old_deadline", adv.From).Msg("deadline changed by another run, not advancing")
			out.conflict = true
		default:
			log.Info().Time("old_deadline", adv.From).Time("new_deadline", adv.To).Msg("advanced update window")
			out.advanced = &adv
		}
	}

	return out
}

func (r *Runner) remind(ctx context.Context, log zerolog.Logger, rem Reminder) (*ReminderResult, bool, error) {
	recorded, err := r.repo.ReminderRecorded(ctx, rem.GroupID, rem.ClosesAt)
	if err != nil {
		// An unknown record state still sends
		log.Warn().Err(err).Msg("failed to check previous reminders, sending anyway")
	} else if recorded {
		log.Debug().Time("closes_at", rem.ClosesAt).Msg("reminder already sent for this window")
		return nil, true, nil
	}

	log.Info().Int("non_posters", len(rem.NonPosters)).Time("closes_at", rem.ClosesAt).Msg("window closing in ~1 hour, sending reminders")

	res, err := r.dispatcher.Dispatch(ctx, rem)
	if err != nil {
		log.Error().Err(err).Msg("failed to send reminders")
		return nil, false, fmt.Errorf("failed to dispatch reminder: %w", err)
	}

	if err := r.repo.RecordReminder(ctx, rem.GroupID, rem.ClosesAt, rem.NonPosters); err != nil {
		log.Warn().Err(err).Msg("failed to record sent reminders")
	}

	return &ReminderResult{
		GroupID:       rem.GroupID,
		GroupName:     rem.GroupName,
		UsersNotified: len(rem.NonPosters),
		PushSent:      res.PushSent,
		InApp:         res.InApp,
		Emailed:       res.Emailed,
		ClosesAt:      rem.ClosesAt,
	}, false, nil
}
