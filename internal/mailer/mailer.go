// Package mailer delivers outbound email as fire-and-forget background
// jobs. Request handlers enqueue and return; a worker goroutine consumes
// the queue and reports delivery outcomes to logs and metrics, never to
// the original caller.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
)

// Message is a rendered mail ready for transport.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender is the transport boundary. Delivery is best-effort.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds transport settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPConfigFromEnv reads transport settings from environment variables.
func SMTPConfigFromEnv() SMTPConfig {
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	return SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     port,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}
}

// SMTPSender delivers via a plain SMTP relay with optional auth.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}
	payload := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, msg.To, msg.Subject, msg.Body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := s.cfg.Host + ":" + s.cfg.Port
	if err := smtp.SendMail(addr, auth, from, []string{msg.To}, []byte(payload)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}
