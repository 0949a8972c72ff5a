package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cactus/internal/auth"
	"cactus/internal/database"
	"cactus/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultFeedLimit  = 50
	maxFeedLimit      = 100
	defaultGroupLimit = 10
	maxGroupLimit     = 100
)

// RoundToNearestHour rounds t to the closest whole hour. Minutes below 30
// round down; 30 and above round up.
func RoundToNearestHour(t time.Time) time.Time {
	t = t.UTC()
	hour := t.Truncate(time.Hour)
	if t.Sub(hour) >= 30*time.Minute {
		return hour.Add(time.Hour)
	}
	return hour
}

// AcceptInvite adds the authenticated user to a group they were invited to.
// Accepting the last pending invitation activates the group.
func (h *Handler) AcceptInvite(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid group ID", err)
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	now := h.now()
	resp, err := h.store.AcceptInvite(ctx, groupID, user, func(g models.Group) time.Time {
		return RoundToNearestHour(now).Add(g.Cadence())
	})
	switch {
	case errors.Is(err, database.ErrGroupNotFound):
		h.handleError(c, http.StatusNotFound, "Group not found", err)
		return
	case errors.Is(err, database.ErrNotInvited):
		h.handleError(c, http.StatusForbidden, "No pending invitation for this group", err)
		return
	case err != nil:
		h.handleError(c, http.StatusInternalServerError, "Failed to accept invitation", err)
		return
	}

	switch {
	case resp.Activated:
		h.log.Info().Int64("group_id", groupID).Time("updates_due", *resp.Group.UpdatesDue).Msg("group activated")
	case !resp.Group.IsActive && len(resp.Group.EmailsInvited) == 0:
		h.log.Warn().Int64("group_id", groupID).Int("cadence_hrs", resp.Group.CadenceHrs).Msg("all invites accepted but cadence is invalid, group left inactive")
	}
	c.JSON(http.StatusOK, resp)
}

// GetGroupUpdates returns a page of a group's updates, newest first. Only
// members may read the feed. Use ?before=<update id> to page back.
func (h *Handler) GetGroupUpdates(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid group ID", err)
		return
	}

	userID, ok := auth.UserID(c)
	if !ok && !auth.IsServiceRole(c) {
		h.handleError(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			h.handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch updates", err)
		return
	}
	if !auth.IsServiceRole(c) && !group.Members.Contains(userID) {
		h.handleError(c, http.StatusForbidden, "Not authorized to view group updates", nil)
		return
	}

	limit := defaultFeedLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxFeedLimit {
			limit = parsed
		}
	}
	var beforeID int64
	if beforeStr := c.Query("before"); beforeStr != "" {
		if parsed, err := strconv.ParseInt(beforeStr, 10, 64); err == nil {
			beforeID = parsed
		}
	}

	updates, err := h.store.ListGroupUpdates(ctx, groupID, beforeID, limit)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch updates", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updates":  updates,
		"has_more": len(updates) == limit,
	})
}

// CreateGroup creates a group owned by the authenticated user and invites the
// given emails. The group stays inactive until every invitee accepts; a group
// created without invitees starts right away.
func (h *Handler) CreateGroup(c *gin.Context) {
	var request models.CreateGroupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.handleError(c, http.StatusBadRequest, fmt.Sprintf("Invalid input: %s", err.Error()), err)
		return
	}

	creator, ok := h.currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	invitees, ok := h.lookupInvitees(c, request.InviteEmails, creator.Email)
	if !ok {
		return
	}

	group := models.Group{
		Name:          request.Name,
		EmojiIcon:     request.EmojiIcon,
		CadenceHrs:    request.CadenceHrs,
		Stake:         request.Stake,
		StakeName:     request.StakeName,
		Members:       models.Int64List{creator.ID},
		EmailsInvited: make(models.StringList, 0, len(invitees)),
	}
	for _, u := range invitees {
		group.EmailsInvited = append(group.EmailsInvited, u.Email)
	}
	if len(invitees) == 0 {
		due := RoundToNearestHour(h.now()).Add(group.Cadence())
		group.IsActive = true
		group.UpdatesDue = &due
	}

	if err := h.store.CreateGroup(ctx, &group, invitees, creator.ID); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to create group", err)
		return
	}

	h.log.Info().Int64("group_id", group.ID).Int64("creator", creator.ID).Int("invited", len(invitees)).Msg("group created")
	c.JSON(http.StatusCreated, group)
}

// GetGroups lists the groups the authenticated user belongs to, newest first
func (h *Handler) GetGroups(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		h.handleError(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultGroupLimit)))
	if err != nil || limit <= 0 {
		limit = defaultGroupLimit
	}
	if limit > maxGroupLimit {
		limit = maxGroupLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	groups, err := h.store.ListGroupsForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch groups", err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

// GetGroupByID returns a group and its members. Members and pending invitees
// may view it.
func (h *Handler) GetGroupByID(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid group ID", err)
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			h.handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch group", err)
		return
	}
	if !group.Members.Contains(user.ID) && !group.EmailsInvited.Contains(user.Email) {
		h.handleError(c, http.StatusForbidden, "Not authorized to view this group", nil)
		return
	}

	users, err := h.store.UsersByIDs(ctx, group.Members)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch group members", err)
		return
	}
	members := make([]models.GroupMember, 0, len(users))
	for _, u := range users {
		members = append(members, models.GroupMember{ID: u.ID, Name: u.Name, Email: u.Email})
	}

	c.JSON(http.StatusOK, gin.H{
		"group":   group,
		"members": members,
	})
}

// LeaveGroup removes the authenticated user from a group
func (h *Handler) LeaveGroup(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid group ID", err)
		return
	}

	userID, ok := auth.UserID(c)
	if !ok {
		h.handleError(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	group, err := h.store.LeaveGroup(c.Request.Context(), groupID, userID)
	switch {
	case errors.Is(err, database.ErrGroupNotFound):
		h.handleError(c, http.StatusNotFound, "Group not found", err)
		return
	case errors.Is(err, database.ErrNotMember):
		h.handleError(c, http.StatusNotFound, "Not a group member", err)
		return
	case err != nil:
		h.handleError(c, http.StatusInternalServerError, "Failed to leave group", err)
		return
	}

	h.log.Info().Int64("group_id", groupID).Int64("user_id", userID).Msg("member left group")
	c.JSON(http.StatusOK, gin.H{
		"message": "Left group successfully",
		"group":   group,
	})
}

// InviteMembers invites more people to a group. Only members may invite.
func (h *Handler) InviteMembers(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid group ID", err)
		return
	}

	var request models.InviteMembersRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.handleError(c, http.StatusBadRequest, fmt.Sprintf("Invalid input: %s", err.Error()), err)
		return
	}

	inviter, ok := h.currentUser(c)
	if !ok {
		return
	}
	invitees, ok := h.lookupInvitees(c, request.Emails, inviter.Email)
	if !ok {
		return
	}

	group, added, err := h.store.InviteMembers(c.Request.Context(), groupID, inviter.ID, invitees)
	switch {
	case errors.Is(err, database.ErrGroupNotFound):
		h.handleError(c, http.StatusNotFound, "Group not found", err)
		return
	case errors.Is(err, database.ErrNotMember):
		h.handleError(c, http.StatusForbidden, "Only members can invite to this group", err)
		return
	case err != nil:
		h.handleError(c, http.StatusInternalServerError, "Failed to invite members", err)
		return
	}

	invited := make([]string, 0, len(added))
	for _, u := range added {
		invited = append(invited, u.Email)
	}
	c.JSON(http.StatusOK, gin.H{
		"group":   group,
		"invited": invited,
	})
}

// currentUser loads the authenticated user, writing the error response when it cannot
func (h *Handler) currentUser(c *gin.Context) (models.User, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		h.handleError(c, http.StatusUnauthorized, "Not authenticated", nil)
		return models.User{}, false
	}
	user, err := h.store.UserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.handleError(c, http.StatusNotFound, "User not found", err)
			return user, false
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to load user", err)
		return user, false
	}
	return user, true
}

// lookupInvitees resolves emails to accounts, dropping blanks, repeats and the
// inviter's own address. Every remaining email must belong to an account.
func (h *Handler) lookupInvitees(c *gin.Context, emails []string, self string) ([]models.User, bool) {
	seen := make(map[string]bool, len(emails))
	wanted := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" || email == self || seen[email] {
			continue
		}
		seen[email] = true
		wanted = append(wanted, email)
	}
	if len(wanted) == 0 {
		return nil, true
	}

	users, err := h.store.UsersByEmails(c.Request.Context(), wanted)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to look up invitees", err)
		return nil, false
	}
	byEmail := make(map[string]models.User, len(users))
	for _, u := range users {
		byEmail[u.Email] = u
	}

	var missing []string
	invitees := make([]models.User, 0, len(wanted))
	for _, email := range wanted {
		u, ok := byEmail[email]
		if !ok {
			missing = append(missing, email)
			continue
		}
		invitees = append(invitees, u)
	}
	if len(missing) > 0 {
		h.handleError(c, http.StatusBadRequest, "No account found for: "+strings.Join(missing, ", "), nil)
		return nil, false
	}
	return invitees, true
}
