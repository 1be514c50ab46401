package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"salesreach/models"
)

// SendTimeout bounds one SMTP dispatch. A timed-out send is a failure; no
// cancellation is propagated mid-send.
const SendTimeout = 15 * time.Second

// Mailer delivers one outbound email and returns its message id.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) (messageID string, err error)
}

// SMTPMailer sends through a configured SMTP relay using gomail.
type SMTPMailer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func NewSMTPMailer(host string, port int, username, password, fromEmail, fromName string) *SMTPMailer {
	return &SMTPMailer{
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		FromEmail: fromEmail,
		FromName:  fromName,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), m.Host)

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", body)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)

	// gomail has no context support; run the dial-and-send in a goroutine
	// and enforce the deadline ourselves.
	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", &models.SendError{Err: err}
		}
		return messageID, nil
	case <-ctx.Done():
		return "", &models.SendError{Err: ctx.Err()}
	}
}
