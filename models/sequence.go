package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Sequence statuses
const (
	SequenceStatusDraft    = "draft"
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Sequence represents a reusable template of timed email steps
type Sequence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived

	// Generation defaults for AI-written steps
	Tone   string `gorm:"default:'professional'" json:"tone"` // professional, friendly, direct
	Length string `gorm:"default:'medium'" json:"length"`     // short, medium, long

	// Statistics (denormalized for performance)
	TotalEnrolled     int `gorm:"default:0" json:"total_enrolled"`
	TotalCompleted    int `gorm:"default:0" json:"total_completed"`
	TotalReplied      int `gorm:"default:0" json:"total_replied"`
	TotalBounced      int `gorm:"default:0" json:"total_bounced"`
	TotalUnsubscribed int `gorm:"default:0" json:"total_unsubscribed"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep represents one scheduled email position within a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int `gorm:"not null" json:"step_number"` // 1..N, contiguous
	DelayDays  int `gorm:"not null" json:"delay_days"`  // relative to enrollment start
	SendHour   int `gorm:"default:9" json:"send_hour"`  // 0-23
	SendMinute int `gorm:"default:0" json:"send_minute"`

	// Optional fixed template; both empty means the step is AI-generated
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	IsFollowUp bool `gorm:"default:false" json:"is_follow_up"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// HasTemplate reports whether the step carries a fixed subject/body
// instead of relying on AI generation.
func (s *SequenceStep) HasTemplate() bool {
	return s.Subject != "" && s.Body != ""
}

// ValidateSteps checks the step-list invariants: numbers contiguous from 1,
// delays non-negative and non-decreasing, send times within range.
func ValidateSteps(steps []SequenceStep) error {
	prevDelay := 0
	for i, step := range steps {
		if step.StepNumber != i+1 {
			return &ValidationError{
				Field:   fmt.Sprintf("steps[%d].step_number", i),
				Message: fmt.Sprintf("step numbers must be contiguous starting at 1, got %d at position %d", step.StepNumber, i+1),
			}
		}
		if step.DelayDays < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("steps[%d].delay_days", i),
				Message: "delay_days must be >= 0",
			}
		}
		if step.DelayDays < prevDelay {
			return &ValidationError{
				Field:   fmt.Sprintf("steps[%d].delay_days", i),
				Message: fmt.Sprintf("delay_days must be non-decreasing, step %d fires before step %d", step.StepNumber, step.StepNumber-1),
			}
		}
		if step.SendHour < 0 || step.SendHour > 23 {
			return &ValidationError{
				Field:   fmt.Sprintf("steps[%d].send_hour", i),
				Message: "send_hour must be between 0 and 23",
			}
		}
		if step.SendMinute < 0 || step.SendMinute > 59 {
			return &ValidationError{
				Field:   fmt.Sprintf("steps[%d].send_minute", i),
				Message: "send_minute must be between 0 and 59",
			}
		}
		prevDelay = step.DelayDays
	}
	return nil
}
