package controller

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Logger: logger,
	}
}

// nonTerminalStatuses are enrollment states that block a re-enrollment of
// the same (sequence, prospect) pair.
var nonTerminalStatuses = []string{
	models.EnrollmentStatusActive,
	models.EnrollmentStatusProcessing,
	models.EnrollmentStatusPaused,
}

// EnrollProspects enrolls a batch of prospects into a sequence. Each
// prospect is handled independently: duplicates and unsubscribed contacts
// are reported per prospect without failing the batch.
func (ec *EnrollmentController) EnrollProspects(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var input struct {
		ProspectIDs []uint `json:"prospect_ids"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(input.ProspectIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "prospect_ids cannot be empty",
		})
	}

	var sequence models.Sequence
	if err := ec.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	if len(sequence.Steps) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sequence has no steps",
		})
	}

	type enrollResult struct {
		ProspectID   uint   `json:"prospect_id"`
		EnrollmentID uint   `json:"enrollment_id,omitempty"`
		Error        string `json:"error,omitempty"`
	}

	now := time.Now()
	results := make([]enrollResult, 0, len(input.ProspectIDs))
	enrolled := 0

	for _, prospectID := range input.ProspectIDs {
		result := enrollResult{ProspectID: prospectID}

		enrollment, err := ec.enrollOne(&sequence, prospectID, user.ID, now)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.EnrollmentID = enrollment.ID
			enrolled++
		}
		results = append(results, result)
	}

	if enrolled > 0 {
		if err := ec.DB.Model(&models.Sequence{}).
			Where("id = ?", sequence.ID).
			Update("total_enrolled", gorm.Expr("total_enrolled + ?", enrolled)).
			Error; err != nil {
			ec.Logger.Printf("Failed to bump enrollment counter for sequence %d: %v", sequence.ID, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Enrollment processed",
		"enrolled": enrolled,
		"results":  results,
	})
}

func (ec *EnrollmentController) enrollOne(sequence *models.Sequence, prospectID, userID uint, now time.Time) (*models.SequenceEnrollment, error) {
	var prospect models.Prospect
	if err := ec.DB.Where("id = ? AND user_id = ?", prospectID, userID).First(&prospect).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "prospect not found")
	}
	if prospect.IsUnsubscribed {
		return nil, fiber.NewError(fiber.StatusBadRequest, "prospect has unsubscribed")
	}
	if prospect.IsBounced {
		return nil, fiber.NewError(fiber.StatusBadRequest, "prospect email has bounced")
	}

	// One live enrollment per (sequence, prospect); terminal enrollments do
	// not block re-enrollment, a new record is created instead. The partial
	// unique index backs this check up, the count only gives a friendly error.
	var existing int64
	if err := ec.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND prospect_id = ? AND status IN ?", sequence.ID, prospectID, nonTerminalStatuses).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, models.ErrAlreadyEnrolled
	}

	nextSendAt := enrollmentNextSendAt(now, sequence.Steps[0])
	enrollment := models.SequenceEnrollment{
		SequenceID:  sequence.ID,
		ProspectID:  prospectID,
		UserID:      userID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 0,
		NextSendAt:  &nextSendAt,
		EnrolledAt:  now,
	}
	if err := ec.DB.Create(&enrollment).Error; err != nil {
		// A concurrent request won the live-pair unique index
		if isDuplicateKeyError(err) {
			return nil, models.ErrAlreadyEnrolled
		}
		return nil, err
	}
	return &enrollment, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// GetEnrollments lists a sequence's enrollments with prospect info.
func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := ec.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var enrollments []models.SequenceEnrollment
	query := ec.DB.Preload("Prospect").Where("sequence_id = ?", sequence.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("enrolled_at DESC").Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
	})
}

// PauseEnrollment suspends one enrollment; only valid from active.
func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	return ec.transitionEnrollment(c, models.EnrollmentStatusActive, models.EnrollmentStatusPaused, "paused")
}

// ResumeEnrollment reactivates a paused enrollment. The stored next-send
// time is preserved; a next-send time already in the past means the next
// scheduler cycle sends immediately (catch-up, not skip).
func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	return ec.transitionEnrollment(c, models.EnrollmentStatusPaused, models.EnrollmentStatusActive, "resumed")
}

func (ec *EnrollmentController) transitionEnrollment(c *fiber.Ctx, from, to, verb string) error {
	user := c.Locals("user").(*models.User)
	enrollmentID := c.Params("id")

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", enrollmentID, user.ID).First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	res := ec.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, from).
		Update("status", to)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update enrollment",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Enrollment is not " + from,
		})
	}

	ec.Logger.Printf("Enrollment %d %s by user %d", enrollment.ID, verb, user.ID)
	return c.JSON(fiber.Map{
		"message": "Enrollment " + verb + " successfully",
	})
}
