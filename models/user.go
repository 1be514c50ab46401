package models

import "gorm.io/gorm"

// User holds the engine-facing account state. Identity itself comes from the
// auth layer as an opaque id; what the engine needs is the credit balance and
// daily limit consulted before every dispatch.
type User struct {
	gorm.Model
	Email    string `gorm:"not null;uniqueIndex" json:"email"`
	Name     string `json:"name"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Credit-based sending limits
	EmailCredits   int `gorm:"default:5000" json:"email_credits"`
	DailySendLimit int `gorm:"default:500" json:"daily_send_limit"`
	SentToday      int `gorm:"default:0" json:"sent_today"`

	StripeCustomerID string `json:"stripe_customer_id"`

	// Relations
	Transactions []CreditTransaction `gorm:"foreignKey:UserID" json:"transactions,omitempty"`
}

// CreditTransaction records credit purchases and adjustments
type CreditTransaction struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	EmailCredits int    `gorm:"not null" json:"email_credits"` // positive for purchases
	Amount       int    `json:"amount"`                        // in cents
	Currency     string `gorm:"default:'USD'" json:"currency"`

	PaymentStatus string `gorm:"default:'pending'" json:"payment_status"` // pending, completed, failed, refunded
	Description   string `json:"description"`

	StripePaymentIntentID string `json:"stripe_payment_intent_id"`
}
