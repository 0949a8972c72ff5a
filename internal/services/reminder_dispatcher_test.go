package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"cactus/internal/models"
	"cactus/internal/scheduler"

	"github.com/rs/zerolog"
)

type fakePush struct {
	result PushResult
	err    error
	title  string
	body   string
	data   map[string]interface{}
	ids    []int64
}

func (f *fakePush) SendToUsers(ctx context.Context, userIDs []int64, title, body string, data map[string]interface{}) (PushResult, error) {
	f.ids, f.title, f.body, f.data = userIDs, title, body, data
	return f.result, f.err
}

type fakeMailer struct {
	enabled bool
	failFor map[int64]bool
	sent    []int64
}

func (f *fakeMailer) Enabled() bool { return f.enabled }

func (f *fakeMailer) SendUpdateReminder(ctx context.Context, user models.User, groupName, groupEmoji string, closesAt string) error {
	if f.failFor[user.ID] {
		return errors.New("smtp said no")
	}
	f.sent = append(f.sent, user.ID)
	return nil
}

type fakeNotificationStore struct {
	fakeUsers
	createErr     error
	notifications []models.Notification
}

func (f *fakeNotificationStore) CreateNotifications(ctx context.Context, n []models.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.notifications = append(f.notifications, n...)
	return nil
}

func testReminder() scheduler.Reminder {
	return scheduler.Reminder{
		GroupID:    7,
		GroupName:  "runners",
		GroupEmoji: "🏃",
		NonPosters: []int64{2, 3},
		ClosesAt:   time.Date(2024, 10, 26, 15, 0, 0, 0, time.UTC),
	}
}

func TestDispatchPushAndInApp(t *testing.T) {
	t.Parallel()
	push := &fakePush{result: PushResult{Sent: 2}}
	store := &fakeNotificationStore{}
	d := NewReminderDispatcher(push, &fakeMailer{}, store, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testReminder())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.PushSent != 2 || res.InApp != 2 || res.Emailed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if push.title != "🏃 update reminder for runners" || push.body != reminderBody {
		t.Fatalf("push title/body = %q / %q", push.title, push.body)
	}
	if push.data["type"] != models.NotificationUpdateReminder || push.data["closes_at"] != "2024-10-26T15:00:00Z" {
		t.Fatalf("push data = %v", push.data)
	}
	if want := []int64{2, 3}; !reflect.DeepEqual(push.ids, want) {
		t.Fatalf("push ids = %v, want %v", push.ids, want)
	}

	if len(store.notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(store.notifications))
	}
	n := store.notifications[0]
	if n.NotificationType != models.NotificationUpdateReminder || n.UserID != 2 || n.Opened {
		t.Fatalf("notification = %+v", n)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(n.Data, &payload); err != nil {
		t.Fatalf("notification data: %v", err)
	}
	if payload["group_name"] != "runners" || payload["group_emoji"] != "🏃" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDispatchPushFailure(t *testing.T) {
	t.Parallel()
	push := &fakePush{err: errors.New("expo down")}
	store := &fakeNotificationStore{}
	d := NewReminderDispatcher(push, &fakeMailer{}, store, zerolog.Nop())

	if _, err := d.Dispatch(context.Background(), testReminder()); err == nil {
		t.Fatal("expected push failure to fail the dispatch")
	}
	if len(store.notifications) != 0 {
		t.Fatalf("notifications created after push failure: %d", len(store.notifications))
	}
}

func TestDispatchPartialPushIsRecorded(t *testing.T) {
	t.Parallel()
	push := &fakePush{
		result: PushResult{Sent: 1, Skipped: []int64{4}, Undelivered: []int64{3}},
		err:    ErrPushIncomplete,
	}
	store := &fakeNotificationStore{fakeUsers: fakeUsers{users: map[int64]models.User{
		3: {ID: 3, Email: "c@example.com"},
		4: {ID: 4, Email: "d@example.com"},
	}}}
	mailer := &fakeMailer{enabled: true}
	d := NewReminderDispatcher(push, mailer, store, zerolog.Nop())

	r := testReminder()
	r.NonPosters = []int64{2, 3, 4}
	res, err := d.Dispatch(context.Background(), r)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.PushSent != 1 || res.InApp != 3 || res.Emailed != 2 {
		t.Fatalf("result = %+v", res)
	}
	if want := []int64{4, 3}; !reflect.DeepEqual(mailer.sent, want) {
		t.Fatalf("emailed = %v, want %v", mailer.sent, want)
	}
}

func TestDispatchNoTokensFallsBackToEmail(t *testing.T) {
	t.Parallel()
	push := &fakePush{result: PushResult{Skipped: []int64{2, 3}}, err: ErrNoPushTokens}
	store := &fakeNotificationStore{fakeUsers: fakeUsers{users: map[int64]models.User{
		2: {ID: 2, Email: "two@example.com"},
		3: {ID: 3, Email: "three@example.com"},
	}}}
	mailer := &fakeMailer{enabled: true, failFor: map[int64]bool{3: true}}
	d := NewReminderDispatcher(push, mailer, store, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testReminder())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.PushSent != 0 || res.InApp != 2 || res.Emailed != 1 {
		t.Fatalf("result = %+v, want 0 push, 2 in-app, 1 email", res)
	}
	if want := []int64{2}; !reflect.DeepEqual(mailer.sent, want) {
		t.Fatalf("emailed = %v, want %v", mailer.sent, want)
	}
}

func TestDispatchEmailDisabled(t *testing.T) {
	t.Parallel()
	push := &fakePush{result: PushResult{Sent: 1, Skipped: []int64{3}}}
	store := &fakeNotificationStore{fakeUsers: fakeUsers{users: map[int64]models.User{3: {ID: 3, Email: "x@example.com"}}}}
	mailer := &fakeMailer{enabled: false}
	d := NewReminderDispatcher(push, mailer, store, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testReminder())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Emailed != 0 || len(mailer.sent) != 0 {
		t.Fatalf("emailed with mail disabled: %+v", res)
	}
}

func TestDispatchInAppFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	push := &fakePush{result: PushResult{Sent: 2}}
	store := &fakeNotificationStore{createErr: errors.New("insert failed")}
	d := NewReminderDispatcher(push, nil, store, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testReminder())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.PushSent != 2 || res.InApp != 0 {
		t.Fatalf("result = %+v", res)
	}
}
