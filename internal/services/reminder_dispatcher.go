package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cactus/internal/models"
	"cactus/internal/scheduler"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const reminderBody = "Updates are due in an hour! Don't forget to post."

// PushSender sends a push message to a set of users
type PushSender interface {
	SendToUsers(ctx context.Context, userIDs []int64, title, body string, data map[string]interface{}) (PushResult, error)
}

// ReminderMailer emails a reminder to a single user
type ReminderMailer interface {
	Enabled() bool
	SendUpdateReminder(ctx context.Context, user models.User, groupName, groupEmoji string, closesAt string) error
}

// NotificationStore persists in-app notifications and loads users
type NotificationStore interface {
	UserLookup
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
}

// ReminderDispatcher delivers update reminders by push, in-app notification
// and, for members without a push token, email
type ReminderDispatcher struct {
	push   PushSender
	mailer ReminderMailer
	store  NotificationStore
	log    zerolog.Logger
}

func NewReminderDispatcher(push PushSender, mailer ReminderMailer, store NotificationStore, log zerolog.Logger) *ReminderDispatcher {
	return &ReminderDispatcher{
		push:   push,
		mailer: mailer,
		store:  store,
		log:    log,
	}
}

// Dispatch implements scheduler.Dispatcher. Only a push delivery failure fails
// the reminder; in-app and email problems are logged.
func (d *ReminderDispatcher) Dispatch(ctx context.Context, r scheduler.Reminder) (scheduler.DispatchResult, error) {
	var result scheduler.DispatchResult
	log := d.log.With().Int64("group_id", r.GroupID).Logger()
	closesAt := r.ClosesAt.UTC().Format(time.RFC3339)

	title := fmt.Sprintf("%s update reminder for %s", r.GroupEmoji, r.GroupName)
	data := map[string]interface{}{
		"type":       models.NotificationUpdateReminder,
		"group_id":   r.GroupID,
		"group_name": r.GroupName,
		"closes_at":  closesAt,
	}

	pushResult, err := d.push.SendToUsers(ctx, r.NonPosters, title, reminderBody, data)
	switch {
	case errors.Is(err, ErrNoPushTokens):
		log.Info().Msg("no push tokens for non-posters")
	case errors.Is(err, ErrPushIncomplete):
		log.Error().Err(err).Int("sent", pushResult.Sent).Ints64("undelivered", pushResult.Undelivered).Msg("push delivery incomplete")
	case err != nil:
		return result, fmt.Errorf("failed to send push notifications: %w", err)
	default:
		log.Info().Int("sent", pushResult.Sent).Msg("sent push notifications")
	}
	result.PushSent = pushResult.Sent

	inApp, err := d.createInApp(ctx, r, closesAt)
	if err != nil {
		log.Error().Err(err).Msg("failed to create in-app notifications")
	} else {
		result.InApp = inApp
	}

	unreached := append(append([]int64(nil), pushResult.Skipped...), pushResult.Undelivered...)
	if len(unreached) > 0 && d.mailer != nil && d.mailer.Enabled() {
		result.Emailed = d.email(ctx, log, r, unreached, closesAt)
	}

	return result, nil
}

func (d *ReminderDispatcher) createInApp(ctx context.Context, r scheduler.Reminder, closesAt string) (int, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"group_id":    r.GroupID,
		"group_name":  r.GroupName,
		"group_emoji": r.GroupEmoji,
		"closes_at":   closesAt,
	})
	if err != nil {
		return 0, err
	}

	notifications := make([]models.Notification, 0, len(r.NonPosters))
	for _, userID := range r.NonPosters {
		notifications = append(notifications, models.Notification{
			NotificationType: models.NotificationUpdateReminder,
			UserID:           userID,
			Opened:           false,
			Data:             datatypes.JSON(payload),
		})
	}
	if err := d.store.CreateNotifications(ctx, notifications); err != nil {
		return 0, err
	}
	return len(notifications), nil
}

func (d *ReminderDispatcher) email(ctx context.Context, log zerolog.Logger, r scheduler.Reminder, userIDs []int64, closesAt string) int {
	users, err := d.store.UsersByIDs(ctx, userIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load users for reminder email")
		return 0
	}

	sent := 0
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		if err := d.mailer.SendUpdateReminder(ctx, u, r.GroupName, r.GroupEmoji, closesAt); err != nil {
			log.Warn().Err(err).Int64("user_id", u.ID).Msg("failed to send reminder email")
			continue
		}
		sent++
	}
	return sent
}
