package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
	"salesreach/utils"
)

// staleClaimAge is how long an enrollment may sit in "processing" before the
// claim is considered abandoned (crashed worker) and reclaimed.
const staleClaimAge = 10 * time.Minute

// SchedulerWorker drives sequence enrollments forward: it scans due
// enrollments every cycle, resolves step content, dispatches sends and
// advances or completes each enrollment. It is the sole writer of
// step-advancement state.
type SchedulerWorker struct {
	DB        *gorm.DB
	Generator utils.EmailGenerator
	Mailer    utils.Mailer
	Billing   utils.BillingGate
	Clock     utils.Clock
	Location  *time.Location
	Interval  time.Duration
	Logger    *logrus.Logger
}

func NewSchedulerWorker(db *gorm.DB, generator utils.EmailGenerator, mailer utils.Mailer, billing utils.BillingGate, logger *logrus.Logger) *SchedulerWorker {
	return &SchedulerWorker{
		DB:        db,
		Generator: generator,
		Mailer:    mailer,
		Billing:   billing,
		Clock:     utils.SystemClock{},
		Location:  time.UTC,
		Interval:  60 * time.Second,
		Logger:    logger,
	}
}

func (sw *SchedulerWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Scheduler worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Scheduler worker shutting down...")
			return
		case <-ticker.C:
			sw.RunCycle(ctx)
		}
	}
}

// RunCycle processes every due enrollment once. A failure in one enrollment
// never aborts the batch, and a cycle-level failure (database unavailable)
// is logged and retried on the next tick rather than crashing the process.
func (sw *SchedulerWorker) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sw.Logger.Errorf("Scheduler cycle panicked: %v", r)
			sentry.CaptureException(fmt.Errorf("scheduler cycle panic: %v", r))
		}
	}()

	now := sw.Clock.Now()

	sw.reclaimStale(now)

	var due []models.SequenceEnrollment
	if err := sw.DB.
		Where("status = ? AND next_send_at IS NOT NULL AND next_send_at <= ?",
			models.EnrollmentStatusActive, now).
		Find(&due).Error; err != nil {
		sw.Logger.Printf("Error fetching due enrollments: %v", err)
		return
	}

	for _, enrollment := range due {
		if err := sw.processEnrollment(ctx, enrollment, now); err != nil {
			sw.Logger.Printf("Error processing enrollment %d: %v", enrollment.ID, err)
			sw.releaseClaim(enrollment.ID, err.Error())
		}
	}
}

// reclaimStale returns abandoned processing claims to the active pool so a
// crashed worker cannot strand an enrollment.
func (sw *SchedulerWorker) reclaimStale(now time.Time) {
	res := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("status = ? AND updated_at < ?", models.EnrollmentStatusProcessing, now.Add(-staleClaimAge)).
		Update("status", models.EnrollmentStatusActive)
	if res.Error != nil {
		sw.Logger.Printf("Error reclaiming stale claims: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		sw.Logger.Printf("Reclaimed %d stale enrollment claims", res.RowsAffected)
	}
}

func (sw *SchedulerWorker) processEnrollment(ctx context.Context, enrollment models.SequenceEnrollment, now time.Time) error {
	// Claim the enrollment. The conditional update is the compare-and-swap
	// that guarantees at-most-one worker advances it, even across processes.
	res := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND next_send_at <= ?",
			enrollment.ID, models.EnrollmentStatusActive, now).
		Update("status", models.EnrollmentStatusProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Another worker won the claim
		return nil
	}

	var sequence models.Sequence
	if err := sw.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&sequence, enrollment.SequenceID).Error; err != nil {
		return err
	}

	// A paused or archived sequence defers all of its enrollments untouched.
	if sequence.Status != models.SequenceStatusActive {
		sw.releaseClaim(enrollment.ID, "")
		return nil
	}

	stepNumber := enrollment.CurrentStep + 1
	var step *models.SequenceStep
	for i := range sequence.Steps {
		if sequence.Steps[i].StepNumber == stepNumber {
			step = &sequence.Steps[i]
			break
		}
	}
	if step == nil {
		// No further step exists; the enrollment is done.
		return sw.complete(&enrollment, &sequence, now)
	}

	var prospect models.Prospect
	if err := sw.DB.First(&prospect, enrollment.ProspectID).Error; err != nil {
		return err
	}

	// Billing gate: denied sends stay pending and retry next cycle with the
	// step pointer and schedule untouched.
	allowed, _, err := sw.Billing.CanSendEmail(enrollment.UserID)
	if err != nil {
		return err
	}
	if !allowed {
		sw.Logger.Printf("Send limit reached for user %d, deferring enrollment %d", enrollment.UserID, enrollment.ID)
		sw.releaseClaim(enrollment.ID, models.ErrLimitExceeded.Error())
		return nil
	}

	// Idempotency check: a (enrollment, step) pair is materialized into at
	// most one non-cancelled ScheduledEmail, so overlapping invocations and
	// crash-restarts never double-send.
	var existing models.ScheduledEmail
	err = sw.DB.Where("enrollment_id = ? AND step_id = ? AND status <> ?",
		enrollment.ID, step.ID, models.ScheduledEmailStatusCancelled).
		First(&existing).Error
	switch {
	case err == nil:
		switch existing.Status {
		case models.ScheduledEmailStatusScheduled, models.ScheduledEmailStatusSending:
			// Crash left a materialized email undelivered; resume it.
			sw.dispatch(ctx, &existing, step, &prospect, now)
			return sw.advance(&enrollment, &sequence, step, now)
		default:
			// Already sent or failed; just move the pointer.
			return sw.advance(&enrollment, &sequence, step, now)
		}
	case err != gorm.ErrRecordNotFound:
		return err
	}

	scheduledFor := now
	if enrollment.NextSendAt != nil {
		scheduledFor = *enrollment.NextSendAt
	}

	subject, body, genErr := sw.resolveContent(ctx, step, &sequence, &prospect)
	if genErr != nil {
		// Advance-and-mark-failed: a failed generation must not block the
		// sequence or retry forever.
		sw.Logger.Printf("Generation failed for enrollment %d step %d: %v", enrollment.ID, stepNumber, genErr)
		failed := models.ScheduledEmail{
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			SequenceID:   sequence.ID,
			ProspectID:   prospect.ID,
			UserID:       enrollment.UserID,
			StepNumber:   stepNumber,
			Status:       models.ScheduledEmailStatusFailed,
			ScheduledFor: scheduledFor,
			ErrorMessage: genErr.Error(),
		}
		if err := sw.DB.Create(&failed).Error; err != nil {
			sw.Logger.Printf("Failed to record failed generation for enrollment %d: %v", enrollment.ID, err)
		}
		return sw.advance(&enrollment, &sequence, step, now)
	}

	email := models.ScheduledEmail{
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		SequenceID:   sequence.ID,
		ProspectID:   prospect.ID,
		UserID:       enrollment.UserID,
		StepNumber:   stepNumber,
		Subject:      subject,
		Body:         body,
		Status:       models.ScheduledEmailStatusScheduled,
		ScheduledFor: scheduledFor,
	}
	if err := sw.DB.Create(&email).Error; err != nil {
		// Unique (enrollment_id, step_id) index tripped: a concurrent worker
		// materialized this step first. Back off and let it finish.
		sw.Logger.Printf("Scheduled email already exists for enrollment %d step %d: %v", enrollment.ID, stepNumber, err)
		sw.releaseClaim(enrollment.ID, "")
		return nil
	}

	sw.dispatch(ctx, &email, step, &prospect, now)
	return sw.advance(&enrollment, &sequence, step, now)
}

// resolveContent picks the step's fixed template when present, otherwise
// asks the generator with the sequence's tone/length defaults.
func (sw *SchedulerWorker) resolveContent(ctx context.Context, step *models.SequenceStep, sequence *models.Sequence, prospect *models.Prospect) (string, string, error) {
	if step.HasTemplate() {
		return step.Subject, step.Body, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, utils.GenerationTimeout)
	defer cancel()

	generated, err := sw.Generator.Generate(genCtx, prospect, sequence.Tone, sequence.Length)
	if err != nil {
		return "", "", err
	}
	return generated.Subject, generated.Body, nil
}

// dispatch attempts the actual send and settles the ScheduledEmail into
// sent or failed. Send failures are recorded, not retried.
func (sw *SchedulerWorker) dispatch(ctx context.Context, email *models.ScheduledEmail, step *models.SequenceStep, prospect *models.Prospect, now time.Time) {
	if err := sw.DB.Model(email).Update("status", models.ScheduledEmailStatusSending).Error; err != nil {
		sw.Logger.Printf("Failed to mark email %d as sending: %v", email.ID, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, utils.SendTimeout)
	defer cancel()

	messageID, err := sw.Mailer.Send(sendCtx, prospect.Email, email.Subject, email.Body)
	if err != nil {
		sw.Logger.Printf("Send failed for email %d to %s: %v", email.ID, prospect.Email, err)
		sw.DB.Model(email).Updates(map[string]interface{}{
			"status":        models.ScheduledEmailStatusFailed,
			"error_message": err.Error(),
		})
		return
	}

	if err := sw.DB.Model(email).Updates(map[string]interface{}{
		"status":     models.ScheduledEmailStatusSent,
		"sent_at":    now,
		"message_id": messageID,
	}).Error; err != nil {
		sw.Logger.Printf("Failed to mark email %d as sent: %v", email.ID, err)
	}

	activity := models.EmailActivity{
		EnrollmentID: email.EnrollmentID,
		SequenceID:   email.SequenceID,
		ProspectID:   email.ProspectID,
		UserID:       email.UserID,
		StepNumber:   email.StepNumber,
		MessageID:    messageID,
		SentAt:       utils.Pointer(now),
	}
	if err := sw.DB.Create(&activity).Error; err != nil {
		sw.Logger.Printf("Failed to record email activity for email %d: %v", email.ID, err)
	}

	if err := sw.Billing.ConsumeCredit(email.UserID); err != nil {
		sw.Logger.Printf("Failed to consume credit for user %d: %v", email.UserID, err)
	}

	sw.DB.Model(&models.SequenceStep{}).
		Where("id = ?", step.ID).
		Update("sent_count", gorm.Expr("sent_count + 1"))
	sw.DB.Model(&models.Prospect{}).
		Where("id = ?", prospect.ID).
		Update("last_contacted_at", now)
}

// advance moves the enrollment to the next step or completes it.
func (sw *SchedulerWorker) advance(enrollment *models.SequenceEnrollment, sequence *models.Sequence, doneStep *models.SequenceStep, now time.Time) error {
	var next *models.SequenceStep
	for i := range sequence.Steps {
		if sequence.Steps[i].StepNumber == doneStep.StepNumber+1 {
			next = &sequence.Steps[i]
			break
		}
	}

	if next == nil {
		enrollment.CurrentStep = doneStep.StepNumber
		return sw.complete(enrollment, sequence, now)
	}

	nextSendAt := utils.ComputeNextSendTime(enrollment.EnrolledAt, *next, sw.Location)
	return sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentStatusProcessing).
		Updates(map[string]interface{}{
			"status":           models.EnrollmentStatusActive,
			"current_step":     doneStep.StepNumber,
			"next_send_at":     nextSendAt,
			"last_activity_at": now,
			"last_error":       "",
		}).Error
}

func (sw *SchedulerWorker) complete(enrollment *models.SequenceEnrollment, sequence *models.Sequence, now time.Time) error {
	res := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentStatusProcessing).
		Updates(map[string]interface{}{
			"status":           models.EnrollmentStatusCompleted,
			"current_step":     enrollment.CurrentStep,
			"next_send_at":     nil,
			"completed_at":     now,
			"last_activity_at": now,
			"last_error":       "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Reconciler moved it to a terminal state mid-cycle; nothing to do.
		return nil
	}

	return sw.DB.Model(&models.Sequence{}).
		Where("id = ?", sequence.ID).
		Update("total_completed", gorm.Expr("total_completed + 1")).
		Error
}

// releaseClaim returns a claimed enrollment to the active pool, recording
// the deferral or failure reason when there is one.
func (sw *SchedulerWorker) releaseClaim(enrollmentID uint, lastError string) {
	updates := map[string]interface{}{"status": models.EnrollmentStatusActive}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	if err := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", enrollmentID, models.EnrollmentStatusProcessing).
		Updates(updates).Error; err != nil {
		sw.Logger.Printf("Failed to release claim on enrollment %d: %v", enrollmentID, err)
	}
}
