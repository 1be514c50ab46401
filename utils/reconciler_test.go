package utils

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"salesreach/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A fresh connection gets a fresh in-memory database, so pin the pool
	// to a single connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.CreditTransaction{},
		&models.Prospect{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.ScheduledEmail{},
		&models.EmailActivity{},
	))
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type reconcilerFixture struct {
	db         *gorm.DB
	reconciler *StatusReconciler
	sequence   models.Sequence
	prospect   models.Prospect
	enrollment models.SequenceEnrollment
	activity   models.EmailActivity
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	db := newTestDB(t)

	f := &reconcilerFixture{
		db:         db,
		reconciler: NewStatusReconciler(db, newTestLogger()),
	}

	user := models.User{Email: "owner@example.com"}
	require.NoError(t, db.Create(&user).Error)

	f.sequence = models.Sequence{UserID: user.ID, Name: "Outbound Q1", Status: models.SequenceStatusActive}
	require.NoError(t, db.Create(&f.sequence).Error)

	f.prospect = models.Prospect{UserID: user.ID, Email: "jane@acme.com", FirstName: "Jane"}
	require.NoError(t, db.Create(&f.prospect).Error)

	enrolledAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	next := enrolledAt.Add(72 * time.Hour)
	f.enrollment = models.SequenceEnrollment{
		SequenceID:  f.sequence.ID,
		ProspectID:  f.prospect.ID,
		UserID:      user.ID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		NextSendAt:  &next,
		EnrolledAt:  enrolledAt,
	}
	require.NoError(t, db.Create(&f.enrollment).Error)

	f.activity = models.EmailActivity{
		EnrollmentID: f.enrollment.ID,
		SequenceID:   f.sequence.ID,
		ProspectID:   f.prospect.ID,
		UserID:       user.ID,
		StepNumber:   1,
		MessageID:    "<msg-1@salesreach>",
	}
	require.NoError(t, db.Create(&f.activity).Error)

	return f
}

func TestMarkRepliedCountsOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	applied, err := f.reconciler.MarkReplied(f.enrollment.ID, at)
	require.NoError(t, err)
	assert.True(t, applied)

	// Duplicate signal is acknowledged but not applied again
	applied, err = f.reconciler.MarkReplied(f.enrollment.ID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)

	var enrollment models.SequenceEnrollment
	require.NoError(t, f.db.First(&enrollment, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusReplied, enrollment.Status)
	require.NotNil(t, enrollment.RepliedAt)

	var sequence models.Sequence
	require.NoError(t, f.db.First(&sequence, f.sequence.ID).Error)
	assert.Equal(t, 1, sequence.TotalReplied)
}

func TestMarkRepliedCancelsPendingEmails(t *testing.T) {
	f := newReconcilerFixture(t)

	pending := models.ScheduledEmail{
		EnrollmentID: f.enrollment.ID,
		StepID:       42,
		SequenceID:   f.sequence.ID,
		ProspectID:   f.prospect.ID,
		UserID:       f.enrollment.UserID,
		StepNumber:   2,
		Status:       models.ScheduledEmailStatusScheduled,
		ScheduledFor: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.db.Create(&pending).Error)

	applied, err := f.reconciler.MarkReplied(f.enrollment.ID, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	var email models.ScheduledEmail
	require.NoError(t, f.db.First(&email, pending.ID).Error)
	assert.Equal(t, models.ScheduledEmailStatusCancelled, email.Status)
}

func TestMarkBouncedFlagsProspect(t *testing.T) {
	f := newReconcilerFixture(t)

	applied, err := f.reconciler.MarkBounced(f.enrollment.ID, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	var prospect models.Prospect
	require.NoError(t, f.db.First(&prospect, f.prospect.ID).Error)
	assert.True(t, prospect.IsBounced)

	var sequence models.Sequence
	require.NoError(t, f.db.First(&sequence, f.sequence.ID).Error)
	assert.Equal(t, 1, sequence.TotalBounced)
}

func TestMarkUnsubscribedFlagsProspect(t *testing.T) {
	f := newReconcilerFixture(t)

	applied, err := f.reconciler.MarkUnsubscribed(f.enrollment.ID, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	var prospect models.Prospect
	require.NoError(t, f.db.First(&prospect, f.prospect.ID).Error)
	assert.True(t, prospect.IsUnsubscribed)
}

func TestReconcileTerminalEnrollmentIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)

	require.NoError(t, f.db.Model(&models.SequenceEnrollment{}).
		Where("id = ?", f.enrollment.ID).
		Update("status", models.EnrollmentStatusCompleted).Error)

	applied, err := f.reconciler.MarkBounced(f.enrollment.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	var sequence models.Sequence
	require.NoError(t, f.db.First(&sequence, f.sequence.ID).Error)
	assert.Equal(t, 0, sequence.TotalBounced)
}

func TestApplyEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	at := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)

	applied, err := f.reconciler.ApplyEvent("reply", f.activity.MessageID, at)
	require.NoError(t, err)
	assert.True(t, applied)

	var activity models.EmailActivity
	require.NoError(t, f.db.First(&activity, f.activity.ID).Error)
	require.NotNil(t, activity.RepliedAt)

	var enrollment models.SequenceEnrollment
	require.NoError(t, f.db.First(&enrollment, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusReplied, enrollment.Status)
}

func TestApplyEventUnknownType(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.reconciler.ApplyEvent("opened", f.activity.MessageID, time.Now())
	require.Error(t, err)

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestApplyEventUnknownMessageID(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.reconciler.ApplyEvent("reply", "<not-ours@elsewhere>", time.Now())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
