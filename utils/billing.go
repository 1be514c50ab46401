package utils

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/models"
)

// BillingGate is consulted by the scheduler before every dispatch.
type BillingGate interface {
	CanSendEmail(userID uint) (allowed bool, remaining int, err error)
	ConsumeCredit(userID uint) error
}

// CreditService enforces credit balances and daily send limits.
type CreditService struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewCreditService(db *gorm.DB, logger *logrus.Logger) *CreditService {
	return &CreditService{
		DB:     db,
		Logger: logger,
	}
}

// CanSendEmail reports whether the user may dispatch another email right now.
func (cs *CreditService) CanSendEmail(userID uint) (bool, int, error) {
	var user models.User
	if err := cs.DB.First(&user, userID).Error; err != nil {
		return false, 0, err
	}

	if !user.IsActive {
		return false, 0, nil
	}
	if user.EmailCredits <= 0 {
		return false, 0, nil
	}
	if user.SentToday >= user.DailySendLimit {
		return false, user.EmailCredits, nil
	}

	remaining := user.EmailCredits
	if headroom := user.DailySendLimit - user.SentToday; headroom < remaining {
		remaining = headroom
	}
	return true, remaining, nil
}

// ConsumeCredit burns one email credit and bumps the daily counter.
func (cs *CreditService) ConsumeCredit(userID uint) error {
	return cs.DB.Model(&models.User{}).
		Where("id = ? AND email_credits > 0", userID).
		Updates(map[string]interface{}{
			"email_credits": gorm.Expr("email_credits - 1"),
			"sent_today":    gorm.Expr("sent_today + 1"),
		}).Error
}

// AddCredits applies a completed purchase to the user's balance.
func (cs *CreditService) AddCredits(userID uint, credits int) error {
	return cs.DB.Model(&models.User{}).
		Where("id = ?", userID).
		Update("email_credits", gorm.Expr("email_credits + ?", credits)).
		Error
}

// ResetDailyCounters zeroes every user's daily send counter at midnight.
// Run as a goroutine from main.
func (cs *CreditService) ResetDailyCounters() {
	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(time.Until(nextMidnight))

		if err := cs.DB.Model(&models.User{}).
			Where("sent_today > 0").
			Update("sent_today", 0).
			Error; err != nil {
			cs.Logger.Printf("Failed to reset daily send counters: %v", err)
		} else {
			cs.Logger.Println("Successfully reset daily send counters")
		}
	}
}
