package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campustv/pkg/middleware"
	"campustv/pkg/models"
)

type adPlacementRequest struct {
	AdScheduleID    string    `json:"ad_schedule_id" binding:"required"`
	ScheduleID      string    `json:"schedule_id" binding:"required"`
	AccountID       string    `json:"account_id" binding:"required"`
	PlayAt          time.Time `json:"play_at" binding:"required"`
	DurationSeconds int       `json:"duration_seconds" binding:"required,gt=0"`
}

// CreateAdPlacements accepts a batch of ad placements. The whole batch is
// rejected when any placement's playback interval overlaps an unplayed
// placement in the same schedule, including the other placements of the batch;
// already-played slots are free to be reused.
func CreateAdPlacements(c middleware.Context) {
	var reqs []adPlacementRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	placements := make([]models.AdLiveStream, 0, len(reqs))
	for _, r := range reqs {
		placements = append(placements, models.AdLiveStream{
			ID:              uuid.New().String(),
			AdScheduleID:    r.AdScheduleID,
			ScheduleID:      r.ScheduleID,
			AccountID:       r.AccountID,
			PlayAt:          r.PlayAt,
			DurationSeconds: r.DurationSeconds,
		})
	}

	// Existing unplayed placements, loaded once per distinct schedule.
	existing := make(map[string][]models.AdLiveStream)
	for _, p := range placements {
		if _, ok := existing[p.ScheduleID]; ok {
			continue
		}
		unplayed, err := st.Ads.ListUnplayedBySchedule(c.Request.Context(), p.ScheduleID)
		if err != nil {
			logger.WithError(err).WithField("schedule_id", p.ScheduleID).Error("Failed to load unplayed placements")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		existing[p.ScheduleID] = unplayed
	}

	for i, p := range placements {
		for _, other := range existing[p.ScheduleID] {
			if p.Overlaps(other) {
				c.JSON(http.StatusConflict, gin.H{
					"error":       "placement overlaps an unplayed ad slot",
					"schedule_id": p.ScheduleID,
					"play_at":     p.PlayAt,
				})
				return
			}
		}
		for _, other := range placements[:i] {
			if p.ScheduleID == other.ScheduleID && p.Overlaps(other) {
				c.JSON(http.StatusConflict, gin.H{
					"error":       "batch contains overlapping placements",
					"schedule_id": p.ScheduleID,
					"play_at":     p.PlayAt,
				})
				return
			}
		}
	}

	if err := st.Ads.InsertBatch(c.Request.Context(), placements); err != nil {
		logger.WithError(err).Error("Failed to insert ad placements")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"created": len(placements)})
}
