package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"time"

	"cactus/internal/database"
	"cactus/internal/scheduler"
	"cactus/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Pusher sends push notifications to users
type Pusher interface {
	SendToUsers(ctx context.Context, userIDs []int64, title, body string, data map[string]interface{}) (services.PushResult, error)
}

// ReminderRunner runs one update reminder check
type ReminderRunner interface {
	Run(ctx context.Context) (scheduler.Summary, error)
}

// MediaCleaner removes old update media
type MediaCleaner interface {
	Run(ctx context.Context, now time.Time) (services.CleanupSummary, error)
}

// MediaUploader stores an update photo and returns its URL
type MediaUploader interface {
	Upload(ctx context.Context, file multipart.File, filename string, groupID int64) (string, error)
}

// Handler carries the dependencies of the HTTP endpoints
type Handler struct {
	store    *database.Store
	push     Pusher
	runner   ReminderRunner
	cleanup  MediaCleaner
	uploader MediaUploader
	now      func() time.Time
	log      zerolog.Logger
}

// Deps lists what New needs. Uploader and Cleanup may be nil when media
// storage is not configured.
type Deps struct {
	Store    *database.Store
	Push     Pusher
	Runner   ReminderRunner
	Cleanup  MediaCleaner
	Uploader MediaUploader
	Now      func() time.Time
	Log      zerolog.Logger
}

func New(deps Deps) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		store:    deps.Store,
		push:     deps.Push,
		runner:   deps.Runner,
		cleanup:  deps.Cleanup,
		uploader: deps.Uploader,
		now:      now,
		log:      deps.Log,
	}
}

// handleError provides a consistent way to handle and log errors
func (h *Handler) handleError(c *gin.Context, status int, message string, err error) {
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Int("status", status).Msg(message)
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": message})
}

// HomeHandler handles requests to the root path "/"
func HomeHandler(c *gin.Context) {
	c.String(http.StatusOK, "Welcome to cactus!")
}

// HealthHandler is a simple health check endpoint
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
