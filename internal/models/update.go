package models

import (
	"time"

	"gorm.io/gorm"
)

// Update is a member's post in a group. The updates table doubles as the
// posting record the reminder scheduler scans to find who posted in a window.
type Update struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt     time.Time  `gorm:"not null;index:idx_updates_group_created" json:"created_at"`
	Author        int64      `gorm:"not null;index" json:"author"`
	ParentGroupID int64      `gorm:"not null;index:idx_updates_group_created" json:"parent_group_id"`
	Content       string     `gorm:"type:text;not null" json:"content"`
	Media         StringList `gorm:"type:jsonb;not null;default:'[]'" json:"media"`
	Reactions     Int64List  `gorm:"type:jsonb;not null;default:'[]'" json:"reactions"`
}

// TableName specifies the table name for the Update model
func (Update) TableName() string {
	return "updates"
}

// BeforeCreate hook is called before creating a new update
func (u *Update) BeforeCreate(tx *gorm.DB) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Media == nil {
		u.Media = StringList{}
	}
	if u.Reactions == nil {
		u.Reactions = Int64List{}
	}
	return nil
}

// Reaction is an emoji reaction left by a user on an update
type Reaction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UserID    int64     `gorm:"column:user;not null;uniqueIndex:idx_reactions_unique" json:"user"`
	UpdateID  int64     `gorm:"column:update;not null;uniqueIndex:idx_reactions_unique" json:"update"`
	Reaction  string    `gorm:"size:32;not null;uniqueIndex:idx_reactions_unique" json:"reaction"`
}

// TableName specifies the table name for the Reaction model
func (Reaction) TableName() string {
	return "reactions"
}

// BeforeCreate hook is called before creating a new reaction
func (r *Reaction) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}

// PostUpdateRequest represents the data needed to post an update
type PostUpdateRequest struct {
	UserID    int64    `json:"user_id" binding:"required"`
	GroupID   int64    `json:"group_id" binding:"required"`
	Text      string   `json:"text" binding:"required"`
	PhotoURLs []string `json:"photo_urls"`
}

// AddReactionRequest represents the data needed to react to an update
type AddReactionRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	UpdateID int64  `json:"update_id" binding:"required"`
	Reaction string `json:"reaction" binding:"required,max=32"`
}
