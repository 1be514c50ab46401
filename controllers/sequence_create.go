package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"salesreach/models"
	"salesreach/utils"
)

type stepInput struct {
	StepNumber int    `json:"step_number"`
	DelayDays  int    `json:"delay_days"`
	SendHour   int    `json:"send_hour"`
	SendMinute int    `json:"send_minute"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

type sequenceInput struct {
	Name        string      `json:"name" validate:"required,max=200"`
	Description string      `json:"description"`
	Tone        string      `json:"tone" validate:"omitempty,oneof=professional friendly direct"`
	Length      string      `json:"length" validate:"omitempty,oneof=short medium long"`
	Steps       []stepInput `json:"steps"`
}

func buildSteps(inputs []stepInput) []models.SequenceStep {
	steps := make([]models.SequenceStep, 0, len(inputs))
	for _, in := range inputs {
		steps = append(steps, models.SequenceStep{
			StepNumber: in.StepNumber,
			DelayDays:  in.DelayDays,
			SendHour:   in.SendHour,
			SendMinute: in.SendMinute,
			Subject:    in.Subject,
			Body:       in.Body,
			IsFollowUp: in.StepNumber > 1,
		})
	}
	return steps
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		sc.Logger.Printf("Error parsing request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": err.Error(),
		})
	}

	steps := buildSteps(input.Steps)
	if err := models.ValidateSteps(steps); err != nil {
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

	sequence := models.Sequence{
		UserID:      user.ID,
		Name:        input.Name,
		Description: input.Description,
		Status:      models.SequenceStatusDraft,
	}
	if input.Tone != "" {
		sequence.Tone = input.Tone
	}
	if input.Length != "" {
		sequence.Length = input.Length
	}

	tx := sc.DB.Begin()

	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	for i := range steps {
		steps[i].SequenceID = sequence.ID
		if err := tx.Create(&steps[i]).Error; err != nil {
			tx.Rollback()
			sc.Logger.Printf("Failed to create sequence step: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create sequence steps",
			})
		}
	}

	tx.Commit()

	sequence.Steps = steps
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Sequence created successfully",
		"sequence": sequence,
	})
}
