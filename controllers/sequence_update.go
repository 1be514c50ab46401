package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"salesreach/models"
	"salesreach/utils"
)

// UpdateSequence updates a sequence. The full step list may only be replaced
// while the sequence is a draft; mutating steps of an active sequence would
// desynchronize in-flight enrollments, so active/paused sequences accept
// metadata changes only (name, description, tone, length).
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		sc.Logger.Printf("Error parsing request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": err.Error(),
		})
	}

	if len(input.Steps) > 0 && sequence.Status != models.SequenceStatusDraft {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Steps can only be modified while the sequence is a draft",
		})
	}

	updates := map[string]interface{}{
		"name":        input.Name,
		"description": input.Description,
	}
	if input.Tone != "" {
		updates["tone"] = input.Tone
	}
	if input.Length != "" {
		updates["length"] = input.Length
	}

	tx := sc.DB.Begin()

	if err := tx.Model(&sequence).Updates(updates).Error; err != nil {
		tx.Rollback()
		sc.Logger.Printf("Failed to update sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	if len(input.Steps) > 0 {
		steps := buildSteps(input.Steps)
		if err := models.ValidateSteps(steps); err != nil {
			tx.Rollback()
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":   "Invalid step configuration",
					"details": verr.Error(),
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Full replacement: drop the old list, write the new one
		if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to replace sequence steps",
			})
		}
		for i := range steps {
			steps[i].SequenceID = sequence.ID
			if err := tx.Create(&steps[i]).Error; err != nil {
				tx.Rollback()
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to replace sequence steps",
				})
			}
		}
	}

	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Sequence updated successfully",
	})
}
