package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"salesreach/models"
	"salesreach/utils"
)

// HandleSequenceWebhook ingests externally observed events (reply, bounce,
// unsubscribe) from the email provider and applies them through the status
// reconciler. Repeated deliveries of the same event are acknowledged but
// counted only once.
func (sc *SequenceController) HandleSequenceWebhook(c *fiber.Ctx) error {
	var input struct {
		EventType string `json:"event_type"` // reply, bounce, unsubscribe
		MessageID string `json:"message_id"`
		Timestamp int64  `json:"timestamp"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if input.MessageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message_id is required",
		})
	}

	at := time.Now()
	if input.Timestamp > 0 {
		at = time.Unix(input.Timestamp, 0)
	}

	reconciler := utils.NewStatusReconciler(sc.DB, sc.Logger)
	applied, err := reconciler.ApplyEvent(input.EventType, input.MessageID, at)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": verr.Error(),
			})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No activity found for message",
			})
		}
		sc.Logger.Printf("Failed to apply %s event for %s: %v", input.EventType, input.MessageID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process event",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Webhook processed successfully",
		"applied": applied,
	})
}
