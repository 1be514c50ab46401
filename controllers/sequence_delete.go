package controller

import (
	"github.com/gofiber/fiber/v2"

	"salesreach/models"
)

// DeleteSequence removes a sequence and everything hanging off it. The
// delete is rejected while non-terminal enrollments exist.
func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var activeCount int64
	if err := sc.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status IN ?", sequence.ID, []string{
			models.EnrollmentStatusActive,
			models.EnrollmentStatusProcessing,
			models.EnrollmentStatusPaused,
		}).
		Count(&activeCount).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check enrollments",
		})
	}

	if activeCount > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":              "Sequence has active enrollments and cannot be deleted",
			"active_enrollments": activeCount,
		})
	}

	tx := sc.DB.Begin()

	// Cascade: scheduled emails, activities, enrollments, steps, sequence
	if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.ScheduledEmail{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete scheduled emails",
		})
	}
	if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.EmailActivity{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete email activities",
		})
	}
	if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceEnrollment{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete enrollments",
		})
	}
	if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sequence steps",
		})
	}
	if err := tx.Delete(&sequence).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sequence",
		})
	}

	tx.Commit()

	sc.Logger.Printf("Sequence %d deleted by user %d", sequence.ID, user.ID)
	return c.JSON(fiber.Map{
		"message": "Sequence deleted successfully",
	})
}
