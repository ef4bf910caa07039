// Package mailer delivers MFA one-time codes over SMTP. No example in
// the retrieved pack imports any email library — net/smtp is one of
// the justified stdlib-only exceptions this module carries, recorded in
// DESIGN.md.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/defguard/core/internal/db"
)

// Config holds the outbound SMTP relay's connection details.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender implements auth.EmailSender over net/smtp with PLAIN auth.
type SMTPSender struct {
	cfg Config
}

// NewSMTPSender constructs a SMTPSender over cfg.
func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendMFACode sends user their one-time MFA code. ctx is honored only
// as far as net/smtp allows: the dial and conversation are not
// context-cancellable, so a caller that needs a hard deadline should
// wrap the call in its own timeout.
func (s *SMTPSender) SendMFACode(ctx context.Context, user *db.User, code string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\nYour verification code is: %s\r\n",
		s.cfg.From, user.Email, code,
	))
	return smtp.SendMail(addr, auth, s.cfg.From, []string{user.Email}, msg)
}
