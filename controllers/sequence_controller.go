package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/config"
	"salesreach/models"
	"salesreach/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSequenceController(db *gorm.DB, logger *logrus.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Logger: logger,
	}
}

// ActivateSequence transitions a draft or paused sequence to active.
// A sequence with zero steps cannot be activated.
func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Preload("Steps").Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if sequence.Status == models.SequenceStatusArchived {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Archived sequences cannot be activated",
		})
	}
	if len(sequence.Steps) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A sequence with no steps cannot be activated",
		})
	}

	if err := sc.DB.Model(&sequence).Update("status", models.SequenceStatusActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to activate sequence",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Sequence activated successfully",
		"sequence": sequence,
	})
}

// PauseSequence stops the scheduler from picking up the sequence's
// enrollments. In-flight enrollments keep their schedule and resume later.
func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	return sc.transitionSequence(c, models.SequenceStatusActive, models.SequenceStatusPaused, "paused")
}

// ResumeSequence reactivates a paused sequence. Stored next-send times are
// preserved; anything now in the past is sent on the next cycle (catch-up).
func (sc *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	return sc.transitionSequence(c, models.SequenceStatusPaused, models.SequenceStatusActive, "resumed")
}

// ArchiveSequence retires a sequence from the UI without deleting history.
func (sc *SequenceController) ArchiveSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := sc.DB.Model(&sequence).Update("status", models.SequenceStatusArchived).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to archive sequence",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sequence archived successfully",
	})
}

func (sc *SequenceController) transitionSequence(c *fiber.Ctx, from, to, verb string) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if sequence.Status != from {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sequence is not " + from,
		})
	}

	if err := sc.DB.Model(&sequence).Update("status", to).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence status",
		})
	}

	sc.Logger.Printf("Sequence %d %s by user %d", sequence.ID, verb, user.ID)
	return c.JSON(fiber.Map{
		"message": "Sequence " + verb + " successfully",
	})
}

// enrollmentNextSendAt computes the first-step schedule for a fresh
// enrollment in the configured reference time zone.
func enrollmentNextSendAt(enrolledAt time.Time, step models.SequenceStep) time.Time {
	return utils.ComputeNextSendTime(enrolledAt, step, config.SendLocation())
}
