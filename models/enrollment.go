package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses. "processing" is a transient claim state held by the
// scheduler while it works on an enrollment; it is never exposed as a
// user-facing terminal state.
const (
	EnrollmentStatusActive       = "active"
	EnrollmentStatusProcessing   = "processing"
	EnrollmentStatusPaused       = "paused"
	EnrollmentStatusCompleted    = "completed"
	EnrollmentStatusReplied      = "replied"
	EnrollmentStatusBounced      = "bounced"
	EnrollmentStatusUnsubscribed = "unsubscribed"
)

// ScheduledEmail statuses
const (
	ScheduledEmailStatusScheduled = "scheduled"
	ScheduledEmailStatusSending   = "sending"
	ScheduledEmailStatusSent      = "sent"
	ScheduledEmailStatusFailed    = "failed"
	ScheduledEmailStatusCancelled = "cancelled"
)

// SequenceEnrollment tracks one prospect's live progress through a sequence.
// At most one non-terminal enrollment exists per (sequence, prospect) pair;
// the partial unique index idx_enrollment_live_pair enforces that at the
// database level, and re-enrolling after a terminal state creates a new record.
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_enrollment_sequence_status;index:idx_enrollment_live_pair,unique,where:status = 'active' OR status = 'processing' OR status = 'paused'" json:"sequence_id"`
	ProspectID uint `gorm:"not null;index;index:idx_enrollment_live_pair,unique,where:status = 'active' OR status = 'processing' OR status = 'paused'" json:"prospect_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	Status      string     `gorm:"default:'active';index:idx_enrollment_sequence_status" json:"status"`
	CurrentStep int        `gorm:"default:0" json:"current_step"` // 0 = not started
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`

	EnrolledAt     time.Time  `gorm:"not null" json:"enrolled_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	RepliedAt      *time.Time `json:"replied_at"`
	LastActivityAt *time.Time `json:"last_activity_at"`

	// Last deferral or failure reason recorded by the scheduler
	LastError string `json:"last_error"`

	// Relations
	Sequence Sequence `json:"-"`
	Prospect Prospect `json:"prospect,omitempty"`
}

// IsTerminal reports whether the enrollment can no longer advance.
func (e *SequenceEnrollment) IsTerminal() bool {
	switch e.Status {
	case EnrollmentStatusCompleted, EnrollmentStatusReplied,
		EnrollmentStatusBounced, EnrollmentStatusUnsubscribed:
		return true
	}
	return false
}

// ScheduledEmail is the materialized, dispatch-tracked instance of one step
// for one enrollment. The unique (enrollment_id, step_id) index makes it the
// idempotency record: a step is only ever materialized once per enrollment.
type ScheduledEmail struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;uniqueIndex:idx_scheduled_email_step" json:"enrollment_id"`
	StepID       uint `gorm:"not null;uniqueIndex:idx_scheduled_email_step" json:"step_id"`
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`
	ProspectID   uint `gorm:"not null;index" json:"prospect_id"`
	UserID       uint `gorm:"not null;index" json:"user_id"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	Subject    string `json:"subject"`
	Body       string `gorm:"type:text" json:"body"`

	Status       string     `gorm:"default:'scheduled';index" json:"status"`
	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at"`
	MessageID    string     `gorm:"index" json:"message_id"`
	ErrorMessage string     `json:"error_message"`
}
