package controller

import (
	"github.com/gofiber/fiber/v2"

	"salesreach/models"
)

// GetSequenceStats returns the aggregate counters plus live enrollment and
// send breakdowns for display.
func (sc *SequenceController) GetSequenceStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}

	var enrollmentCounts []statusCount
	if err := sc.DB.Model(&models.SequenceEnrollment{}).
		Select("status, count(*) as count").
		Where("sequence_id = ?", sequence.ID).
		Group("status").
		Scan(&enrollmentCounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollment stats",
		})
	}

	var emailCounts []statusCount
	if err := sc.DB.Model(&models.ScheduledEmail{}).
		Select("status, count(*) as count").
		Where("sequence_id = ?", sequence.ID).
		Group("status").
		Scan(&emailCounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch email stats",
		})
	}

	return c.JSON(fiber.Map{
		"sequence_id":        sequence.ID,
		"total_enrolled":     sequence.TotalEnrolled,
		"total_completed":    sequence.TotalCompleted,
		"total_replied":      sequence.TotalReplied,
		"total_bounced":      sequence.TotalBounced,
		"total_unsubscribed": sequence.TotalUnsubscribed,
		"enrollments":        enrollmentCounts,
		"emails":             emailCounts,
	})
}
