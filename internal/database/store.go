package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cactus/internal/config"
	"cactus/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrGroupNotFound is returned when a group id does not exist
	ErrGroupNotFound = errors.New("group not found")
	// ErrUpdateNotFound is returned when an update id does not exist
	ErrUpdateNotFound = errors.New("update not found")
	// ErrNotInvited is returned when the accepting user's email is not on the invite list
	ErrNotInvited = errors.New("user is not invited to this group")
	// ErrNotMember is returned when a group operation needs a member and the user is not one
	ErrNotMember = errors.New("user is not a member of this group")
)

// Store wraps the queries the scheduler, services and handlers share
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ListActiveGroups returns every group flagged active, ordered by id
func (s *Store) ListActiveGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	return groups, nil
}

// ListPosters returns the distinct authors who posted in groupID during [from, to)
func (s *Store) ListPosters(ctx context.Context, groupID int64, from, to time.Time) ([]int64, error) {
	var authors []int64
	if err := s.db.WithContext(ctx).
		Model(&models.Update{}).
		Where("parent_group_id = ? AND created_at >= ? AND created_at < ?", groupID, from.UTC(), to.UTC()).
		Distinct().
		Pluck("author", &authors).Error; err != nil {
		return nil, fmt.Errorf("list posters for group %d: %w", groupID, err)
	}
	return authors, nil
}

// AdvanceDeadline moves updates_due from `from` to `to`. It reports false when
// the row no longer holds `from`.
func (s *Store) AdvanceDeadline(ctx context.Context, groupID int64, from, to time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Group{}).
		Where("id = ? AND updates_due = ?", groupID, from.UTC()).
		Update("updates_due", to.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("advance deadline for group %d: %w", groupID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReminderRecorded reports whether a reminder for the window closing at
// closesAt was already sent for groupID
func (s *Store) ReminderRecorded(ctx context.Context, groupID int64, closesAt time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.ReminderSent{}).
		Where("group_id = ? AND closes_at = ?", groupID, closesAt.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check reminder for group %d: %w", groupID, err)
	}
	return count > 0, nil
}

// RecordReminder stores one ReminderSent row per user. Rows that already
// exist are left alone.
func (s *Store) RecordReminder(ctx context.Context, groupID int64, closesAt time.Time, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]models.ReminderSent, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.ReminderSent{
			GroupID:  groupID,
			UserID:   id,
			ClosesAt: closesAt.UTC(),
			SentAt:   now,
		})
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error; err != nil {
		return fmt.Errorf("record reminder for group %d: %w", groupID, err)
	}
	return nil
}

// UsersByIDs loads the users with the given ids. Unknown ids are ignored.
func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

// CreateNotifications inserts in-app notifications in one statement
func (s *Store) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// ListUpdatesWithMediaBefore returns updates created before cutoff that still
// reference media
func (s *Store) ListUpdatesWithMediaBefore(ctx context.Context, cutoff time.Time) ([]models.Update, error) {
	var updates []models.Update
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Where("media IS NOT NULL AND media <> ?", "[]").
		Order("id").
		Find(&updates).Error; err != nil {
		return nil, fmt.Errorf("list updates with media: %w", err)
	}
	return updates, nil
}

// ClearMedia empties the media list of an update
func (s *Store) ClearMedia(ctx context.Context, updateID int64) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Update{}).
		Where("id = ?", updateID).
		Update("media", models.StringList{}).Error; err != nil {
		return fmt.Errorf("clear media for update %d: %w", updateID, err)
	}
	return nil
}

// AcceptInvite adds the user to the group's members and drops their email from
// the invite list. When the last invite is accepted the group becomes active
// and its first window is scheduled to close at activateAt. A group without a
// positive cadence is never activated.
func (s *Store) AcceptInvite(ctx context.Context, groupID int64, user models.User, activateAt func(models.Group) time.Time) (models.AcceptInviteResponse, error) {
	var resp models.AcceptInviteResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}

		remaining := make(models.StringList, 0, len(group.EmailsInvited))
		invited := false
		for _, email := range group.EmailsInvited {
			if email == user.Email {
				invited = true
				continue
			}
			remaining = append(remaining, email)
		}
		if !invited {
			return ErrNotInvited
		}

		if !group.Members.Contains(user.ID) {
			group.Members = append(group.Members, user.ID)
		}
		group.EmailsInvited = remaining

		updates := map[string]interface{}{
			"members":        group.Members,
			"emails_invited": group.EmailsInvited,
		}
		if len(remaining) == 0 && !group.IsActive && group.CadenceHrs > 0 {
			due := activateAt(group).UTC()
			group.IsActive = true
			group.UpdatesDue = &due
			updates["is_active"] = true
			updates["updates_due"] = due
			resp.Activated = true
		}

		if err := tx.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error; err != nil {
			return err
		}
		resp.Group = group
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrNotInvited) {
			return resp, err
		}
		return resp, fmt.Errorf("accept invite for group %d: %w", groupID, err)
	}
	return resp, nil
}

// CreateUpdate inserts a new update
func (s *Store) CreateUpdate(ctx context.Context, update *models.Update) error {
	if err := s.db.WithContext(ctx).Create(update).Error; err != nil {
		return fmt.Errorf("create update: %w", err)
	}
	return nil
}

// AddReaction stores a reaction and appends its id to the update's reaction
// list. It reports duplicate when the user already reacted with the same emoji.
func (s *Store) AddReaction(ctx context.Context, reaction *models.Reaction) (duplicate bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var update models.Update
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&update, reaction.UpdateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUpdateNotFound
			}
			return err
		}

		var existing int64
		if err := tx.Model(&models.Reaction{}).
			Where(`"user" = ? AND "update" = ? AND reaction = ?`, reaction.UserID, reaction.UpdateID, reaction.Reaction).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			duplicate = true
			return nil
		}

		if err := tx.Create(reaction).Error; err != nil {
			return err
		}
		reactions := append(update.Reactions, reaction.ID)
		return tx.Model(&models.Update{}).Where("id = ?", update.ID).Update("reactions", reactions).Error
	})
	if err != nil && !errors.Is(err, ErrUpdateNotFound) {
		err = fmt.Errorf("add reaction to update %d: %w", reaction.UpdateID, err)
	}
	return duplicate, err
}

// ListGroupUpdates returns up to limit updates of a group, newest first. When
// beforeID is positive only updates with a smaller id are returned.
func (s *Store) ListGroupUpdates(ctx context.Context, groupID, beforeID int64, limit int) ([]models.Update, error) {
	query := s.db.WithContext(ctx).Where("parent_group_id = ?", groupID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var updates []models.Update
	if err := query.Order("id DESC").Limit(limit).Find(&updates).Error; err != nil {
		return nil, fmt.Errorf("list updates for group %d: %w", groupID, err)
	}
	return updates, nil
}

// GroupByID loads a single group or returns ErrGroupNotFound
func (s *Store) GroupByID(ctx context.Context, id int64) (models.Group, error) {
	var group models.Group
	if err := s.db.WithContext(ctx).First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return group, ErrGroupNotFound
		}
		return group, fmt.Errorf("load group %d: %w", id, err)
	}
	return group, nil
}

// UserByID loads a single user
func (s *Store) UserByID(ctx context.Context, id int64) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return user, err
	}
	return user, nil
}

// UsersByEmails loads the users with the given emails. Unknown emails are ignored.
func (s *Store) UsersByEmails(ctx context.Context, emails []string) ([]models.User, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("email IN ?", emails).
		Order("id").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users by email: %w", err)
	}
	return users, nil
}

// CreateGroup inserts group and one group_invite notification per invitee in
// a single transaction
func (s *Store) CreateGroup(ctx context.Context, group *models.Group, invitees []models.User, invitedBy int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		return createInviteNotifications(tx, *group, invitees, invitedBy)
	})
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// InviteMembers adds invitees to the group's invite list and notifies them.
// Invitees who are already members or already invited are left out of the
// returned list. inviterID must be a member.
func (s *Store) InviteMembers(ctx context.Context, groupID, inviterID int64, invitees []models.User) (models.Group, []models.User, error) {
	var (
		group models.Group
		added []models.User
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if !group.Members.Contains(inviterID) {
			return ErrNotMember
		}

		for _, u := range invitees {
			if group.Members.Contains(u.ID) || group.EmailsInvited.Contains(u.Email) {
				continue
			}
			group.EmailsInvited = append(group.EmailsInvited, u.Email)
			added = append(added, u)
		}
		if len(added) == 0 {
			return nil
		}

		if err := tx.Model(&models.Group{}).
			Where("id = ?", group.ID).
			Update("emails_invited", group.EmailsInvited).Error; err != nil {
			return err
		}
		return createInviteNotifications(tx, group, added, inviterID)
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrNotMember) {
			return group, nil, err
		}
		return group, nil, fmt.Errorf("invite members to group %d: %w", groupID, err)
	}
	return group, added, nil
}

// LeaveGroup removes userID from the group's members
func (s *Store) LeaveGroup(ctx context.Context, groupID, userID int64) (models.Group, error) {
	var group models.Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if !group.Members.Contains(userID) {
			return ErrNotMember
		}

		remaining := make(models.Int64List, 0, len(group.Members))
		for _, id := range group.Members {
			if id != userID {
				remaining = append(remaining, id)
			}
		}
		group.Members = remaining
		return tx.Model(&models.Group{}).Where("id = ?", group.ID).Update("members", group.Members).Error
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrNotMember) {
			return group, err
		}
		return group, fmt.Errorf("leave group %d: %w", groupID, err)
	}
	return group, nil
}

// ListGroupsForUser returns the groups userID is a member of, newest first
func (s *Store) ListGroupsForUser(ctx context.Context, userID int64, limit, offset int) ([]models.Group, error) {
	query := s.db.WithContext(ctx)
	if s.db.Dialector.Name() == config.DriverSQLite {
		query = query.Where("EXISTS (SELECT 1 FROM json_each(members) WHERE json_each.value = ?)", userID)
	} else {
		query = query.Where("members @> ?::jsonb", fmt.Sprintf("[%d]", userID))
	}

	var groups []models.Group
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups for user %d: %w", userID, err)
	}
	return groups, nil
}

func createInviteNotifications(tx *gorm.DB, group models.Group, invitees []models.User, invitedBy int64) error {
	if len(invitees) == 0 {
		return nil
	}
	payload, err := json.Marshal(models.GroupInviteData{
		GroupID:    group.ID,
		GroupName:  group.Name,
		GroupEmoji: group.Icon(),
		InvitedBy:  invitedBy,
	})
	if err != nil {
		return err
	}

	notifications := make([]models.Notification, 0, len(invitees))
	for _, u := range invitees {
		notifications = append(notifications, models.Notification{
			NotificationType: models.NotificationGroupInvite,
			UserID:           u.ID,
			Data:             datatypes.JSON(payload),
		})
	}
	return tx.Create(&notifications).Error
}
