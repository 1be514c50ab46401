package controller

import (
	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
)

type ProspectController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewProspectController(db *gorm.DB, logger *logrus.Logger) *ProspectController {
	return &ProspectController{
		DB:     db,
		Logger: logger,
	}
}

type prospectInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Website   string `json:"website"`
}

func (pc *ProspectController) CreateProspect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input prospectInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	prospect := models.Prospect{
		UserID:    user.ID,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Position:  input.Position,
		Website:   input.Website,
	}

	if err := pc.DB.Create(&prospect).Error; err != nil {
		pc.Logger.Printf("Failed to create prospect: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create prospect",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Prospect created successfully",
		"prospect": prospect,
	})
}

func (pc *ProspectController) GetProspects(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var prospects []models.Prospect
	if err := pc.DB.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&prospects).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch prospects",
		})
	}

	return c.JSON(fiber.Map{
		"prospects": prospects,
	})
}

func (pc *ProspectController) GetProspect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var prospect models.Prospect
	if err := pc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&prospect).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Prospect not found",
		})
	}

	return c.JSON(fiber.Map{
		"prospect": prospect,
	})
}

func (pc *ProspectController) UpdateProspect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var prospect models.Prospect
	if err := pc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&prospect).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Prospect not found",
		})
	}

	var input prospectInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if input.Email != "" && input.Email != prospect.Email {
		if err := checkmail.ValidateFormat(input.Email); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid email address",
			})
		}
		prospect.Email = input.Email
	}
	prospect.FirstName = input.FirstName
	prospect.LastName = input.LastName
	prospect.Company = input.Company
	prospect.Position = input.Position
	prospect.Website = input.Website

	if err := pc.DB.Save(&prospect).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update prospect",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Prospect updated successfully",
		"prospect": prospect,
	})
}

// DeleteProspect removes a prospect and cascades to its enrollments and
// scheduled emails.
func (pc *ProspectController) DeleteProspect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var prospect models.Prospect
	if err := pc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&prospect).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Prospect not found",
		})
	}

	tx := pc.DB.Begin()
	if err := tx.Where("prospect_id = ?", prospect.ID).Delete(&models.ScheduledEmail{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete scheduled emails",
		})
	}
	if err := tx.Where("prospect_id = ?", prospect.ID).Delete(&models.EmailActivity{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete email activities",
		})
	}
	if err := tx.Where("prospect_id = ?", prospect.ID).Delete(&models.SequenceEnrollment{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete enrollments",
		})
	}
	if err := tx.Delete(&prospect).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete prospect",
		})
	}
	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Prospect deleted successfully",
	})
}
