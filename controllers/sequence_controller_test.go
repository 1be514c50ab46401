package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"salesreach/models"
)

type controllerFixture struct {
	app  *fiber.App
	db   *gorm.DB
	user *models.User
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Prospect{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.ScheduledEmail{},
		&models.EmailActivity{},
	))

	user := &models.User{Email: "owner@example.com", IsActive: true, EmailCredits: 100, DailySendLimit: 500}
	require.NoError(t, db.Create(user).Error)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.Next()
	})

	sc := NewSequenceController(db, logger)
	ec := NewEnrollmentController(db, logger)

	app.Post("/sequences", sc.CreateSequence)
	app.Get("/sequences/:id", sc.GetSequence)
	app.Delete("/sequences/:id", sc.DeleteSequence)
	app.Post("/sequences/:id/activate", sc.ActivateSequence)
	app.Post("/sequences/:id/pause", sc.PauseSequence)
	app.Post("/sequences/:id/resume", sc.ResumeSequence)
	app.Post("/sequences/:id/enroll", ec.EnrollProspects)
	app.Post("/enrollments/:id/pause", ec.PauseEnrollment)
	app.Post("/enrollments/:id/resume", ec.ResumeEnrollment)

	return &controllerFixture{app: app, db: db, user: user}
}

func (f *controllerFixture) request(t *testing.T, method, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &parsed))

	return resp.StatusCode, parsed
}

func (f *controllerFixture) createSequence(t *testing.T, status string, steps ...models.SequenceStep) models.Sequence {
	t.Helper()
	sequence := models.Sequence{UserID: f.user.ID, Name: "Outbound", Status: status}
	require.NoError(t, f.db.Create(&sequence).Error)
	for i := range steps {
		steps[i].SequenceID = sequence.ID
		require.NoError(t, f.db.Create(&steps[i]).Error)
	}
	return sequence
}

func (f *controllerFixture) createProspect(t *testing.T, email string) models.Prospect {
	t.Helper()
	prospect := models.Prospect{UserID: f.user.ID, Email: email}
	require.NoError(t, f.db.Create(&prospect).Error)
	return prospect
}

func TestCreateSequence(t *testing.T) {
	f := newControllerFixture(t)

	status, body := f.request(t, "POST", "/sequences", fiber.Map{
		"name": "Cold outreach",
		"tone": "friendly",
		"steps": []fiber.Map{
			{"step_number": 1, "delay_days": 0, "send_hour": 9, "subject": "Hi", "body": "Intro"},
			{"step_number": 2, "delay_days": 3, "send_hour": 9},
		},
	})
	require.Equal(t, fiber.StatusCreated, status, body)

	var sequence models.Sequence
	require.NoError(t, f.db.Preload("Steps").Where("name = ?", "Cold outreach").First(&sequence).Error)
	assert.Equal(t, models.SequenceStatusDraft, sequence.Status)
	assert.Equal(t, "friendly", sequence.Tone)
	require.Len(t, sequence.Steps, 2)
	assert.False(t, sequence.Steps[0].IsFollowUp)
	assert.True(t, sequence.Steps[1].IsFollowUp)
}

func TestCreateSequenceRejectsBadSteps(t *testing.T) {
	f := newControllerFixture(t)

	status, body := f.request(t, "POST", "/sequences", fiber.Map{
		"name": "Broken",
		"steps": []fiber.Map{
			{"step_number": 1, "delay_days": 0, "send_hour": 9},
			{"step_number": 3, "delay_days": 2, "send_hour": 9},
		},
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["details"], "step numbers must be contiguous")

	var count int64
	f.db.Model(&models.Sequence{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestCreateSequenceRequiresName(t *testing.T) {
	f := newControllerFixture(t)

	status, _ := f.request(t, "POST", "/sequences", fiber.Map{
		"steps": []fiber.Map{{"step_number": 1, "send_hour": 9}},
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestActivateSequenceWithoutSteps(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusDraft)

	status, body := f.request(t, "POST", fmt.Sprintf("/sequences/%d/activate", sequence.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "no steps")
}

func TestSequenceLifecycle(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusDraft,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})

	status, _ := f.request(t, "POST", fmt.Sprintf("/sequences/%d/activate", sequence.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = f.request(t, "POST", fmt.Sprintf("/sequences/%d/pause", sequence.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	// Pausing an already-paused sequence is rejected
	status, _ = f.request(t, "POST", fmt.Sprintf("/sequences/%d/pause", sequence.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.request(t, "POST", fmt.Sprintf("/sequences/%d/resume", sequence.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	var got models.Sequence
	require.NoError(t, f.db.First(&got, sequence.ID).Error)
	assert.Equal(t, models.SequenceStatusActive, got.Status)
}

func TestDeleteSequenceWithLiveEnrollments(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})
	prospect := f.createProspect(t, "jane@acme.com")

	enrollment := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: prospect.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, f.db.Create(&enrollment).Error)

	status, _ := f.request(t, "DELETE", fmt.Sprintf("/sequences/%d", sequence.ID), nil)
	assert.Equal(t, fiber.StatusConflict, status)

	// A terminal enrollment no longer blocks deletion
	require.NoError(t, f.db.Model(&enrollment).Update("status", models.EnrollmentStatusCompleted).Error)
	status, _ = f.request(t, "DELETE", fmt.Sprintf("/sequences/%d", sequence.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	var count int64
	f.db.Model(&models.Sequence{}).Count(&count)
	assert.EqualValues(t, 0, count)
	f.db.Model(&models.SequenceEnrollment{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestEnrollProspects(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, DelayDays: 0, SendHour: 9, Subject: "Hi", Body: "Intro"})
	jane := f.createProspect(t, "jane@acme.com")
	unsubscribed := f.createProspect(t, "gone@acme.com")
	require.NoError(t, f.db.Model(&unsubscribed).Update("is_unsubscribed", true).Error)

	status, body := f.request(t, "POST", fmt.Sprintf("/sequences/%d/enroll", sequence.ID), fiber.Map{
		"prospect_ids": []uint{jane.ID, unsubscribed.ID},
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.EqualValues(t, 1, body["enrolled"])

	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	assert.Contains(t, results[1].(map[string]interface{})["error"], "unsubscribed")

	var enrollment models.SequenceEnrollment
	require.NoError(t, f.db.Where("prospect_id = ?", jane.ID).First(&enrollment).Error)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 0, enrollment.CurrentStep)
	require.NotNil(t, enrollment.NextSendAt)

	var got models.Sequence
	require.NoError(t, f.db.First(&got, sequence.ID).Error)
	assert.Equal(t, 1, got.TotalEnrolled)
}

func TestEnrollProspectsRejectsDuplicate(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})
	jane := f.createProspect(t, "jane@acme.com")

	status, _ := f.request(t, "POST", fmt.Sprintf("/sequences/%d/enroll", sequence.ID), fiber.Map{
		"prospect_ids": []uint{jane.ID},
	})
	require.Equal(t, fiber.StatusCreated, status)

	status, body := f.request(t, "POST", fmt.Sprintf("/sequences/%d/enroll", sequence.ID), fiber.Map{
		"prospect_ids": []uint{jane.ID},
	})
	require.Equal(t, fiber.StatusCreated, status)
	assert.EqualValues(t, 0, body["enrolled"])

	results := body["results"].([]interface{})
	assert.Contains(t, results[0].(map[string]interface{})["error"], "already")

	var count int64
	f.db.Model(&models.SequenceEnrollment{}).Where("prospect_id = ?", jane.ID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestEnrollProspectsAllowsReenrollAfterTerminal(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})
	jane := f.createProspect(t, "jane@acme.com")

	done := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: jane.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusCompleted,
		EnrolledAt: time.Now().AddDate(0, -1, 0),
	}
	require.NoError(t, f.db.Create(&done).Error)

	status, body := f.request(t, "POST", fmt.Sprintf("/sequences/%d/enroll", sequence.ID), fiber.Map{
		"prospect_ids": []uint{jane.ID},
	})
	require.Equal(t, fiber.StatusCreated, status)
	assert.EqualValues(t, 1, body["enrolled"])

	var count int64
	f.db.Model(&models.SequenceEnrollment{}).Where("prospect_id = ?", jane.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestLiveEnrollmentPairUniqueIndex(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})
	jane := f.createProspect(t, "jane@acme.com")

	first := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: jane.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, f.db.Create(&first).Error)

	// The database rejects a second live enrollment for the pair even when
	// the application-level check is bypassed
	dup := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: jane.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusPaused,
		EnrolledAt: time.Now(),
	}
	err := f.db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, isDuplicateKeyError(err))

	// Terminal rows leave the partial index, so re-enrollment still works
	require.NoError(t, f.db.Model(&first).Update("status", models.EnrollmentStatusCompleted).Error)
	again := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: jane.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, f.db.Create(&again).Error)
}

func TestPauseAndResumeEnrollment(t *testing.T) {
	f := newControllerFixture(t)
	sequence := f.createSequence(t, models.SequenceStatusActive,
		models.SequenceStep{StepNumber: 1, SendHour: 9, Subject: "Hi", Body: "Intro"})
	jane := f.createProspect(t, "jane@acme.com")

	next := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	enrollment := models.SequenceEnrollment{
		SequenceID: sequence.ID,
		ProspectID: jane.ID,
		UserID:     f.user.ID,
		Status:     models.EnrollmentStatusActive,
		NextSendAt: &next,
		EnrolledAt: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.db.Create(&enrollment).Error)

	status, _ := f.request(t, "POST", fmt.Sprintf("/enrollments/%d/pause", enrollment.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	var got models.SequenceEnrollment
	require.NoError(t, f.db.First(&got, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusPaused, got.Status)

	// Resume preserves the stored next-send time for catch-up
	status, _ = f.request(t, "POST", fmt.Sprintf("/enrollments/%d/resume", enrollment.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	require.NoError(t, f.db.First(&got, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusActive, got.Status)
	require.NotNil(t, got.NextSendAt)
	assert.WithinDuration(t, next, *got.NextSendAt, time.Second)

	// Resuming an active enrollment is rejected
	status, _ = f.request(t, "POST", fmt.Sprintf("/enrollments/%d/resume", enrollment.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
