// Package mailqueue is the deferred email scheduler: a DB-backed queue of
// time-stamped notification tasks and the loop that dispatches them. Task
// state lives in the email_tasks table, so a restart loses nothing; the
// in-process part is just a ticker.
package mailqueue

import (
	"fmt"
	"net/smtp"
	"os"
)

// Sender delivers one rendered message. The scheduler only depends on this.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends through a plain SMTP relay.
type SMTPSender struct{}

func (SMTPSender) Send(to, subject, body string) error {
	from := os.Getenv("SMTP_FROM")
	password := os.Getenv("SMTP_PASSWORD")
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")

	auth := smtp.PlainAuth("", from, password, host)

	message := []byte("Subject: " + subject + "\r\n" +
		"From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body + "\r\n")

	if err := smtp.SendMail(host+":"+port, auth, from, []string{to}, message); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
