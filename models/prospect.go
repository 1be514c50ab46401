package models

import (
	"time"

	"gorm.io/gorm"
)

// Prospect represents a single sales contact
type Prospect struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Website   string `json:"website"`

	// Status flags maintained by the reconciler
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`

	LastContactedAt *time.Time `json:"last_contacted_at"`

	// Relations
	Enrollments []SequenceEnrollment `gorm:"foreignKey:ProspectID" json:"enrollments,omitempty"`
}

// FullName returns the prospect's display name, falling back to the email.
func (p *Prospect) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.Email
	}
}
