package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types recorded for the in-app notification list
const (
	NotificationUpdateReminder = "update_reminder"
	NotificationGroupInvite    = "group_invite"
)

// Notification is an in-app notification row shown in the notifications tab
type Notification struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	NotificationType string         `gorm:"size:30;not null" json:"notification_type"`
	UserID           int64          `gorm:"column:user;not null;index" json:"user"`
	Opened           bool           `gorm:"not null;default:false" json:"opened"`
	Data             datatypes.JSON `gorm:"type:jsonb" json:"data"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate hook is called before creating a new notification
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ReminderSent tracks which reminders have been sent to avoid duplicates when
// the same closing window is seen by more than one scheduler run
type ReminderSent struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	GroupID  int64     `gorm:"not null;uniqueIndex:idx_reminder_sent_window" json:"group_id"`
	UserID   int64     `gorm:"column:user;not null;uniqueIndex:idx_reminder_sent_window" json:"user"`
	ClosesAt time.Time `gorm:"not null;uniqueIndex:idx_reminder_sent_window" json:"closes_at"`
	SentAt   time.Time `gorm:"not null" json:"sent_at"`
}

// TableName specifies the table name for the ReminderSent model
func (ReminderSent) TableName() string {
	return "reminder_sent"
}
