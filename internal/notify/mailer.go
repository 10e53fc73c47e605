// Package notify holds the outbound delivery sinks: mail, SMS and ops alerts.
package notify

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer returns a mailer that silently does nothing when host is empty.
func NewMailer(host string, port int, username, password, from string) *Mailer {
	if host == "" {
		return &Mailer{}
	}
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *Mailer) Send(to, subject, body string) error {
	if m.dialer == nil {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
