package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cactus/internal/auth"
	"cactus/internal/database"
	"cactus/internal/models"
	"cactus/internal/services"

	"github.com/gin-gonic/gin"
)

const maxMediaSize = 10 << 20

// SendPushRequest is the body of the send-push-notification endpoint
type SendPushRequest struct {
	UserIDs []int64                `json:"user_ids"`
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Data    map[string]interface{} `json:"data"`
}

// actingFor reports whether the caller may act as userID
func actingFor(c *gin.Context, userID int64) bool {
	if auth.IsServiceRole(c) {
		return true
	}
	id, ok := auth.UserID(c)
	return ok && id == userID
}

// PostUpdate handles a member posting an update to a group
func (h *Handler) PostUpdate(c *gin.Context) {
	var request models.PostUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.handleError(c, http.StatusBadRequest, "Missing required fields: user_id, group_id, or text", err)
		return
	}

	if !actingFor(c, request.UserID) {
		h.handleError(c, http.StatusForbidden, "Cannot post updates for another user", nil)
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GroupByID(ctx, request.GroupID)
	if err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			h.handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to create update", err)
		return
	}
	if !auth.IsServiceRole(c) && !group.Members.Contains(request.UserID) {
		h.handleError(c, http.StatusForbidden, "User is not a member of this group", nil)
		return
	}

	update := models.Update{
		Author:        request.UserID,
		ParentGroupID: request.GroupID,
		Content:       request.Text,
		Media:         models.StringList(request.PhotoURLs),
	}
	if update.Media == nil {
		update.Media = models.StringList{}
	}

	if err := h.store.CreateUpdate(ctx, &update); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to create update", err)
		return
	}

	h.log.Info().Int64("group_id", group.ID).Int64("update_id", update.ID).Msg("update posted")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"update":  update,
		"message": "Update added successfully",
	})
}

// AddReaction handles a user reacting to an update with an emoji
func (h *Handler) AddReaction(c *gin.Context) {
	var request models.AddReactionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.handleError(c, http.StatusBadRequest, "Missing required fields: user_id, update_id, or reaction", err)
		return
	}

	if !actingFor(c, request.UserID) {
		h.handleError(c, http.StatusForbidden, "Cannot react for another user", nil)
		return
	}

	reaction := models.Reaction{
		UserID:   request.UserID,
		UpdateID: request.UpdateID,
		Reaction: request.Reaction,
	}
	duplicate, err := h.store.AddReaction(c.Request.Context(), &reaction)
	switch {
	case errors.Is(err, database.ErrUpdateNotFound):
		h.handleError(c, http.StatusNotFound, "Update not found", err)
		return
	case err != nil:
		h.handleError(c, http.StatusInternalServerError, "Failed to create reaction", err)
		return
	case duplicate:
		c.JSON(http.StatusOK, gin.H{
			"error":   "User has already reacted with this emoji",
			"message": "Duplicate reaction not allowed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"reaction": reaction,
		"message":  "Reaction added successfully",
	})
}

// SendPushNotification sends a push message to a list of users
func (h *Handler) SendPushNotification(c *gin.Context) {
	var request SendPushRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.UserIDs) == 0 || request.Title == "" || request.Body == "" {
		h.handleError(c, http.StatusBadRequest, "Missing required fields: user_ids, title, or body", err)
		return
	}

	result, err := h.push.SendToUsers(c.Request.Context(), request.UserIDs, request.Title, request.Body, request.Data)
	switch {
	case errors.Is(err, services.ErrNoPushTokens):
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "No users with push tokens found",
			"sent":    0,
		})
		return
	case err != nil:
		h.handleError(c, http.StatusInternalServerError, "Failed to send push notifications", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"sent":    result.Sent,
		"results": result.Tickets,
	})
}

// CheckUpdateReminders runs one update reminder check and returns its summary
func (h *Handler) CheckUpdateReminders(c *gin.Context) {
	summary, err := h.runner.Run(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch groups", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CleanupOldMedia deletes media of updates past the retention period
func (h *Handler) CleanupOldMedia(c *gin.Context) {
	if h.cleanup == nil {
		h.handleError(c, http.StatusServiceUnavailable, "Media storage is not configured", nil)
		return
	}
	summary, err := h.cleanup.Run(c.Request.Context(), h.now())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch old updates", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// UploadMedia stores a photo for a later update and returns its URL
func (h *Handler) UploadMedia(c *gin.Context) {
	if h.uploader == nil {
		h.handleError(c, http.StatusServiceUnavailable, "Media storage is not configured", nil)
		return
	}

	groupID, err := strconv.ParseInt(c.PostForm("group_id"), 10, 64)
	if err != nil || groupID <= 0 {
		h.handleError(c, http.StatusBadRequest, "Invalid group_id", err)
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			h.handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to upload media", err)
		return
	}
	if !auth.IsServiceRole(c) {
		userID, _ := auth.UserID(c)
		if !group.Members.Contains(userID) {
			h.handleError(c, http.StatusForbidden, "User is not a member of this group", nil)
			return
		}
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "No file uploaded", err)
		return
	}
	if err := services.ValidateMediaFile(fileHeader.Filename, fileHeader.Size, maxMediaSize); err != nil {
		h.handleError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read file", err)
		return
	}
	defer file.Close()

	url, err := h.uploader.Upload(ctx, file, fileHeader.Filename, groupID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to upload media", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
