package services

import (
	"context"
	"fmt"
	"time"

	"cactus/internal/models"

	"github.com/rs/zerolog"
)

// MediaDeleter removes a stored media file by URL
type MediaDeleter interface {
	Delete(ctx context.Context, mediaURL string) error
}

// MediaStore is the part of the database the cleanup job needs
type MediaStore interface {
	ListUpdatesWithMediaBefore(ctx context.Context, cutoff time.Time) ([]models.Update, error)
	ClearMedia(ctx context.Context, updateID int64) error
}

// CleanupSummary is the result of one media cleanup run
type CleanupSummary struct {
	Success            bool      `json:"success"`
	Message            string    `json:"message"`
	CutoffDate         time.Time `json:"cutoff_date"`
	UpdatesFound       int       `json:"updates_found"`
	UpdatesProcessed   int       `json:"updates_processed"`
	FilesDeleted       int       `json:"files_deleted"`
	FilesErrored       int       `json:"files_errored"`
	ProcessedUpdateIDs []int64   `json:"processed_update_ids"`
}

// MediaCleanup deletes the media of updates older than the retention period
type MediaCleanup struct {
	store     MediaStore
	storage   MediaDeleter
	retention time.Duration
	log       zerolog.Logger
}

func NewMediaCleanup(store MediaStore, storage MediaDeleter, retention time.Duration, log zerolog.Logger) *MediaCleanup {
	return &MediaCleanup{
		store:     store,
		storage:   storage,
		retention: retention,
		log:       log,
	}
}

// Run deletes stored files for every update created before now minus the
// retention and clears their media lists. A failed file delete is counted and
// the update's media list is still cleared.
func (c *MediaCleanup) Run(ctx context.Context, now time.Time) (CleanupSummary, error) {
	cutoff := now.UTC().Add(-c.retention)
	summary := CleanupSummary{
		CutoffDate:         cutoff,
		ProcessedUpdateIDs: []int64{},
	}

	c.log.Info().Time("cutoff", cutoff).Msg("starting media cleanup")

	updates, err := c.store.ListUpdatesWithMediaBefore(ctx, cutoff)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch old updates: %w", err)
	}
	summary.UpdatesFound = len(updates)

	if len(updates) == 0 {
		summary.Success = true
		summary.Message = "No old media to clean up"
		return summary, nil
	}

	for _, update := range updates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		for _, mediaURL := range update.Media {
			if err := c.storage.Delete(ctx, mediaURL); err != nil {
				c.log.Warn().Err(err).Int64("update_id", update.ID).Str("url", mediaURL).Msg("failed to delete media file")
				summary.FilesErrored++
				continue
			}
			summary.FilesDeleted++
		}

		if err := c.store.ClearMedia(ctx, update.ID); err != nil {
			c.log.Error().Err(err).Int64("update_id", update.ID).Msg("failed to clear update media")
			continue
		}
		summary.UpdatesProcessed++
		summary.ProcessedUpdateIDs = append(summary.ProcessedUpdateIDs, update.ID)
	}

	summary.Success = true
	summary.Message = "Media cleanup completed"
	c.log.Info().
		Int("updates_found", summary.UpdatesFound).
		Int("updates_processed", summary.UpdatesProcessed).
		Int("files_deleted", summary.FilesDeleted).
		Int("files_errored", summary.FilesErrored).
		Msg("media cleanup completed")
	return summary, nil
}
