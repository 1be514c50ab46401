package utils

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
)

// StatusReconciler applies externally observed events (reply detected,
// bounce, unsubscribe) to enrollments. Every transition is guarded by a
// conditional update so repeated signals for the same enrollment count
// exactly once toward the sequence aggregates.
type StatusReconciler struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewStatusReconciler(db *gorm.DB, logger *logrus.Logger) *StatusReconciler {
	return &StatusReconciler{
		DB:     db,
		Logger: logger,
	}
}

// MarkReplied transitions the enrollment to replied and bumps the sequence
// reply counter. Returns false when the signal was a duplicate or the
// enrollment was already terminal.
func (sr *StatusReconciler) MarkReplied(enrollmentID uint, at time.Time) (bool, error) {
	return sr.applyTerminal(enrollmentID, models.EnrollmentStatusReplied, map[string]interface{}{
		"status":           models.EnrollmentStatusReplied,
		"replied_at":       at,
		"last_activity_at": at,
	}, "total_replied")
}

// MarkBounced transitions the enrollment to bounced and flags the prospect.
func (sr *StatusReconciler) MarkBounced(enrollmentID uint, at time.Time) (bool, error) {
	applied, err := sr.applyTerminal(enrollmentID, models.EnrollmentStatusBounced, map[string]interface{}{
		"status":           models.EnrollmentStatusBounced,
		"last_activity_at": at,
	}, "total_bounced")
	if err != nil || !applied {
		return applied, err
	}
	return true, sr.flagProspect(enrollmentID, "is_bounced")
}

// MarkUnsubscribed transitions the enrollment to unsubscribed and flags the
// prospect so future enrollments skip them.
func (sr *StatusReconciler) MarkUnsubscribed(enrollmentID uint, at time.Time) (bool, error) {
	applied, err := sr.applyTerminal(enrollmentID, models.EnrollmentStatusUnsubscribed, map[string]interface{}{
		"status":           models.EnrollmentStatusUnsubscribed,
		"last_activity_at": at,
	}, "total_unsubscribed")
	if err != nil || !applied {
		return applied, err
	}
	return true, sr.flagProspect(enrollmentID, "is_unsubscribed")
}

// applyTerminal performs the guarded transition. The WHERE clause is the
// double-count guard: only non-terminal enrollments match, so the sequence
// counter moves at most once per enrollment.
func (sr *StatusReconciler) applyTerminal(enrollmentID uint, newStatus string, updates map[string]interface{}, counterColumn string) (bool, error) {
	var enrollment models.SequenceEnrollment
	if err := sr.DB.First(&enrollment, enrollmentID).Error; err != nil {
		return false, err
	}

	res := sr.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status IN ?", enrollmentID, []string{
			models.EnrollmentStatusActive,
			models.EnrollmentStatusProcessing,
			models.EnrollmentStatusPaused,
		}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		sr.Logger.Printf("Ignoring duplicate %s signal for enrollment %d (status %s)",
			newStatus, enrollmentID, enrollment.Status)
		return false, nil
	}

	if err := sr.DB.Model(&models.Sequence{}).
		Where("id = ?", enrollment.SequenceID).
		Update(counterColumn, gorm.Expr(counterColumn+" + 1")).
		Error; err != nil {
		return true, err
	}

	// Terminal enrollments have no future sends; cancel anything still queued.
	if err := sr.cancelPending(enrollmentID); err != nil {
		return true, err
	}

	sr.Logger.WithFields(logrus.Fields{
		"enrollment_id": enrollmentID,
		"sequence_id":   enrollment.SequenceID,
		"status":        newStatus,
	}).Info("Enrollment reconciled")
	return true, nil
}

func (sr *StatusReconciler) cancelPending(enrollmentID uint) error {
	return sr.DB.Model(&models.ScheduledEmail{}).
		Where("enrollment_id = ? AND status IN ?", enrollmentID, []string{
			models.ScheduledEmailStatusScheduled,
			models.ScheduledEmailStatusSending,
		}).
		Update("status", models.ScheduledEmailStatusCancelled).
		Error
}

func (sr *StatusReconciler) flagProspect(enrollmentID uint, column string) error {
	var enrollment models.SequenceEnrollment
	if err := sr.DB.First(&enrollment, enrollmentID).Error; err != nil {
		return err
	}
	return sr.DB.Model(&models.Prospect{}).
		Where("id = ?", enrollment.ProspectID).
		Update(column, true).
		Error
}

// FindEnrollmentByMessageID resolves an external signal carrying only a
// message id back to the enrollment that produced it, stamping the activity
// row along the way.
func (sr *StatusReconciler) FindEnrollmentByMessageID(messageID string) (*models.EmailActivity, error) {
	var activity models.EmailActivity
	if err := sr.DB.Where("message_id = ?", messageID).First(&activity).Error; err != nil {
		return nil, err
	}
	return &activity, nil
}

// ApplyEvent dispatches a webhook/IMAP event to the matching transition and
// stamps the activity record.
func (sr *StatusReconciler) ApplyEvent(eventType, messageID string, at time.Time) (bool, error) {
	activity, err := sr.FindEnrollmentByMessageID(messageID)
	if err != nil {
		return false, err
	}

	var applied bool
	var column string
	switch eventType {
	case "reply":
		applied, err = sr.MarkReplied(activity.EnrollmentID, at)
		column = "replied_at"
	case "bounce":
		applied, err = sr.MarkBounced(activity.EnrollmentID, at)
		column = "bounced_at"
	case "unsubscribe":
		applied, err = sr.MarkUnsubscribed(activity.EnrollmentID, at)
		column = "unsubscribed_at"
	default:
		return false, &models.ValidationError{Field: "event_type", Message: "must be reply, bounce or unsubscribe"}
	}
	if err != nil {
		return applied, err
	}

	if err := sr.DB.Model(&models.EmailActivity{}).
		Where("id = ? AND "+column+" IS NULL", activity.ID).
		Update(column, at).
		Error; err != nil {
		return applied, err
	}
	return applied, nil
}
