package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"gorm.io/gorm"
)

// EmailService delivers transactional mail (verification, password reset).
// The yaml smtp section provides the baseline; keys an admin saved in
// system_configs override it at runtime.
type EmailService struct {
	db   *gorm.DB
	smtp *config.SMTPConfig
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

func NewEmailService(db *gorm.DB, smtp *config.SMTPConfig) *EmailService {
	return &EmailService{db: db, smtp: smtp}
}

// GetConfig resolves the effective delivery settings: the yaml smtp section
// first, then any email_* keys present in system_configs on top.
func (s *EmailService) GetConfig() *EmailConfig {
	cfg := &EmailConfig{}
	if s.smtp != nil {
		cfg.Enabled = s.smtp.Enabled
		cfg.Host = s.smtp.Host
		cfg.Port = s.smtp.Port
		cfg.Username = s.smtp.Username
		cfg.Password = s.smtp.Password
		cfg.From = s.smtp.From
		cfg.UseTLS = s.smtp.UseTLS
	}

	var configs []models.SystemConfig
	s.db.Where("`key` LIKE ?", "email_%").Find(&configs)

	for _, c := range configs {
		switch c.Key {
		case "email_enabled":
			cfg.Enabled = c.Value == "true"
		case "email_host":
			cfg.Host = c.Value
		case "email_port":
			if port, err := strconv.Atoi(c.Value); err == nil {
				cfg.Port = port
			}
		case "email_username":
			cfg.Username = c.Value
		case "email_password":
			cfg.Password = c.Value
		case "email_from":
			cfg.From = c.Value
		case "email_use_tls":
			cfg.UseTLS = c.Value == "true"
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 587
	}

	return cfg
}

// Send delivers one mail. Delivery is a no-op when mail is disabled, so the
// auth flows keep working in deployments without an SMTP relay.
func (s *EmailService) Send(to, subject, body string) error {
	config := s.GetConfig()
	if !config.Enabled || config.Host == "" {
		logger.Debug().Str("to", to).Str("subject", subject).Msg("email delivery disabled, dropping mail")
		return nil
	}
	return s.sendEmail(config, []string{to}, subject, body)
}

func buildVerificationEmailBody(name, token string) string {
	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString(fmt.Sprintf("<h2>Hi %s,</h2>", name))
	sb.WriteString("<p>Confirm your email address to finish setting up your account.</p>")
	sb.WriteString(fmt.Sprintf("<p><a href=\"/verify-email?token=%s\">Verify email</a></p>", token))
	sb.WriteString("<p style=\"color: #888; font-size: 12px;\">The link expires in 48 hours. If you did not create an account you can ignore this mail.</p>")
	sb.WriteString("</body></html>")
	return sb.String()
}

func buildResetEmailBody(name, token string) string {
	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString(fmt.Sprintf("<h2>Hi %s,</h2>", name))
	sb.WriteString("<p>A password reset was requested for your account.</p>")
	sb.WriteString(fmt.Sprintf("<p><a href=\"/reset-password?token=%s\">Choose a new password</a></p>", token))
	sb.WriteString("<p style=\"color: #888; font-size: 12px;\">The link expires in 30 minutes. If you did not request a reset, your password is unchanged and you can ignore this mail.</p>")
	sb.WriteString("</body></html>")
	return sb.String()
}

func (s *EmailService) sendEmail(config *EmailConfig, to []string, subject, body string) error {
	from := config.From
	if from == "" {
		from = config.Username
	}

	headers := make(map[string]string)
	headers["From"] = from
	headers["To"] = strings.Join(to, ",")
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var message strings.Builder
	for k, v := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	var auth smtp.Auth
	if config.Username != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	var err error
	if config.UseTLS {
		err = s.sendEmailTLS(config, addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}

	if err != nil {
		logger.Errorf("[Email] Failed to send email: %v", err)
		return err
	}

	logger.Infof("[Email] Sent %q to %v", subject, to)
	return nil
}

func (s *EmailService) sendEmailTLS(config *EmailConfig, addr string, auth smtp.Auth, from string, to []string, message string) error {
	tlsConfig := &tls.Config{
		ServerName: config.Host,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	_, err = w.Write([]byte(message))
	if err != nil {
		return err
	}

	return w.Close()
}
