package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{cfg: cfg, logger: logger}
	s.send = s.sendSMTP
	return s
}

// SendTransferNotification tells a card owner that a transfer between their
// cards completed. Only masked numbers are included.
func (s *Sender) SendTransferNotification(to, username, fromMasked, toMasked string, amount int64, at time.Time) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Transfer Notification"

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += fmt.Sprintf(
		"A transfer of %s from card %s to card %s was completed.\n"+
			"Transaction time: %s\n",
		formatAmount(amount), fromMasked, toMasked, at.Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nBank Service"
	e.Text = []byte(body)

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send transfer notification to %s: %v", to, err)
		return fmt.Errorf("failed to send transfer notification: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

// SendCardBlockedNotification confirms a block of one of the user's cards
func (s *Sender) SendCardBlockedNotification(to, username, masked string, at time.Time) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Blocked"

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += fmt.Sprintf(
		"Your card %s has been blocked.\n"+
			"Time: %s\n"+
			"Contact the bank if you did not request this.\n",
		masked, at.Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nBank Service"
	e.Text = []byte(body)

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send block notification to %s: %v", to, err)
		return fmt.Errorf("failed to send block notification: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	return e.Send(addr, auth)
}

// formatAmount renders minor units as a decimal amount
func formatAmount(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
