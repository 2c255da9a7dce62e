package notify

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
	"strings"
)

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	To       []string
}

// SMTPNotifier delivers notifications by email. Sends happen on a separate
// goroutine so the engine never waits on the mail server.
type SMTPNotifier struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
	logger *log.Logger
}

// NewSMTPNotifier creates an email-backed notifier.
func NewSMTPNotifier(config SMTPConfig, logger *log.Logger) *SMTPNotifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &SMTPNotifier{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		logger: logger,
	}
}

// IsConfigured returns true if email delivery is configured.
func (n *SMTPNotifier) IsConfigured() bool {
	return n.config.Host != "" && n.config.Port != "" && n.config.From != "" && len(n.config.To) > 0
}

func (n *SMTPNotifier) Notify(notification Notification) {
	if !n.IsConfigured() {
		n.logger.Printf("smtp not configured, dropping %s notification", notification.Type)
		return
	}
	go func() {
		if err := n.send(notification); err != nil {
			n.logger.Printf("send notification email: %v", err)
		}
	}()
}

func (n *SMTPNotifier) send(notification Notification) error {
	from := n.config.From
	if n.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.config.FromName, n.config.From)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(notification.Urgency)), notification.Title)
	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"\r\n"+
			"%s\r\n",
		strings.Join(n.config.To, ", "), from, subject, notification.Message))

	if err := smtp.SendMail(n.server, n.auth, n.config.From, n.config.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
