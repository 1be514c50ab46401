package controller

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
)

// HandleSequenceProgressWS streams live sequence progress to the UI: every
// few seconds the current counters are pushed until the client disconnects
// or no active enrollments remain.
func HandleSequenceProgressWS(db *gorm.DB, logger *logrus.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			SequenceID uint `json:"sequence_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			logger.Printf("Error reading progress request: %v", err)
			return
		}

		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			var sequence models.Sequence
			if err := db.First(&sequence, input.SequenceID).Error; err != nil {
				logger.Printf("Sequence %d not found for progress stream: %v", input.SequenceID, err)
				return
			}

			var activeCount int64
			db.Model(&models.SequenceEnrollment{}).
				Where("sequence_id = ? AND status IN ?", sequence.ID, []string{
					models.EnrollmentStatusActive,
					models.EnrollmentStatusProcessing,
				}).
				Count(&activeCount)

			progress := struct {
				SequenceID     uint   `json:"sequence_id"`
				Status         string `json:"status"`
				ActiveCount    int64  `json:"active_count"`
				TotalEnrolled  int    `json:"total_enrolled"`
				TotalCompleted int    `json:"total_completed"`
				TotalReplied   int    `json:"total_replied"`
			}{
				SequenceID:     sequence.ID,
				Status:         sequence.Status,
				ActiveCount:    activeCount,
				TotalEnrolled:  sequence.TotalEnrolled,
				TotalCompleted: sequence.TotalCompleted,
				TotalReplied:   sequence.TotalReplied,
			}

			if err := c.WriteJSON(progress); err != nil {
				return
			}
			if activeCount == 0 && sequence.Status != models.SequenceStatusActive {
				return
			}
		}
	}
}
