package handlers

import (
	"cactus/internal/auth"

	"github.com/gin-gonic/gin"
)

// Register mounts every endpoint on r. Job endpoints require the service role.
func (h *Handler) Register(r *gin.Engine, jwtSecret string) {
	r.GET("/", HomeHandler)
	r.GET("/health", HealthHandler)

	authed := r.Group("/", auth.AuthMiddleware(jwtSecret))
	{
		authed.POST("/functions/post-update", h.PostUpdate)
		authed.POST("/functions/add-reaction", h.AddReaction)
		authed.POST("/functions/upload-media", h.UploadMedia)
		authed.POST("/groups", h.CreateGroup)
		authed.GET("/groups", h.GetGroups)
		authed.GET("/groups/:group_id", h.GetGroupByID)
		authed.GET("/groups/:group_id/updates", h.GetGroupUpdates)
		authed.POST("/groups/:group_id/accept-invite", h.AcceptInvite)
		authed.POST("/groups/:group_id/invite", h.InviteMembers)
		authed.POST("/groups/:group_id/leave", h.LeaveGroup)
	}

	jobs := r.Group("/functions", auth.AuthMiddleware(jwtSecret), auth.RequireServiceRole())
	{
		jobs.POST("/send-push-notification", h.SendPushNotification)
		jobs.POST("/check-update-reminders", h.CheckUpdateReminders)
		jobs.POST("/cleanup-old-media", h.CleanupOldMedia)
	}
}
