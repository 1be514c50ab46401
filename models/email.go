package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailActivity records what happened to one dispatched email. It is the
// lookup path from an external signal (reply, bounce, unsubscribe webhook or
// IMAP match) back to the enrollment that produced the message.
type EmailActivity struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`
	ProspectID   uint `gorm:"not null;index" json:"prospect_id"`
	UserID       uint `gorm:"not null;index" json:"user_id"`

	StepNumber int    `json:"step_number"`
	MessageID  string `gorm:"not null;index" json:"message_id"`

	SentAt         *time.Time `json:"sent_at"`
	RepliedAt      *time.Time `json:"replied_at"`
	BouncedAt      *time.Time `json:"bounced_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`
}
