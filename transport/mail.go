package transport

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"coursedrip/models"
)

// MailTransport delivers primary lifecycle messages over SMTP and keeps a
// copy in the subscriber's in-app message view.
type MailTransport struct {
	db        *gorm.DB
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewMailTransport(db *gorm.DB, host string, port int, username, password, fromEmail, fromName string) *MailTransport {
	return &MailTransport{
		db:        db,
		dialer:    gomail.NewDialer(host, port, username, password),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (t *MailTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.fromEmail, t.fromName)
	m.SetHeader("To", msg.Email)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if msg.AudioRef != "" {
		m.SetHeader("X-Audio-Ref", msg.AudioRef)
	}

	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.Email, err)
	}

	record := models.DirectMessage{
		SubscriberID: msg.SubscriberID,
		Subject:      msg.Subject,
		Body:         msg.Body,
		AudioRef:     msg.AudioRef,
		SentAt:       time.Now().UTC(),
	}
	return t.db.WithContext(ctx).Create(&record).Error
}
