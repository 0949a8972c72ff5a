package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultGroupEmoji is shown when a group has no emoji icon set
const DefaultGroupEmoji = "🌵"

// Group represents an accountability group. Members commit to posting one
// update per window of CadenceHrs hours; UpdatesDue marks the instant the
// current window closes and stays nil until the group becomes active.
type Group struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	Name          string     `gorm:"size:100;not null" json:"name"`
	EmojiIcon     string     `gorm:"size:16" json:"emoji_icon"`
	IsActive      bool       `gorm:"not null;index" json:"is_active"`
	CadenceHrs    int        `gorm:"not null" json:"cadence_hrs"`
	UpdatesDue    *time.Time `gorm:"index" json:"updates_due"`
	Stake         float64    `gorm:"type:decimal(10,2);not null;default:0" json:"stake"`
	StakeName     string     `gorm:"size:100" json:"stake_name,omitempty"`
	Members       Int64List  `gorm:"type:jsonb;not null;default:'[]'" json:"members"`
	EmailsInvited StringList `gorm:"type:jsonb;not null;default:'[]'" json:"emails_invited"`
}

// TableName specifies the table name for the Group model
func (Group) TableName() string {
	return "groups"
}

// BeforeCreate hook is called before creating a new group
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Cadence returns the length of one update window
func (g Group) Cadence() time.Duration {
	return time.Duration(g.CadenceHrs) * time.Hour
}

// Icon returns the group emoji, falling back to the default cactus
func (g Group) Icon() string {
	if g.EmojiIcon == "" {
		return DefaultGroupEmoji
	}
	return g.EmojiIcon
}

// AcceptInviteResponse is returned after a user joins a group from an invitation
type AcceptInviteResponse struct {
	Group     Group `json:"group"`
	Activated bool  `json:"activated"`
}

// CreateGroupRequest represents the data needed to create a group. Invitees
// are referenced by the email of an existing account.
type CreateGroupRequest struct {
	Name         string   `json:"name" binding:"required,max=100"`
	EmojiIcon    string   `json:"emoji_icon" binding:"max=16"`
	CadenceHrs   int      `json:"cadence_hrs" binding:"required,gt=0"`
	Stake        float64  `json:"stake" binding:"gt=0"`
	StakeName    string   `json:"stake_name" binding:"max=100"`
	InviteEmails []string `json:"invite_emails" binding:"dive,email"`
}

// InviteMembersRequest represents the data needed to invite more people to a group
type InviteMembersRequest struct {
	Emails []string `json:"emails" binding:"required,min=1,dive,email"`
}

// GroupMember is the public view of a member shown on the group page
type GroupMember struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GroupInviteData is the payload of a group_invite notification
type GroupInviteData struct {
	GroupID    int64  `json:"group_id"`
	GroupName  string `json:"group_name"`
	GroupEmoji string `json:"group_emoji"`
	InvitedBy  int64  `json:"invited_by"`
}
