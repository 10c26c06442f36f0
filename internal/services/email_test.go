package services

import (
	"testing"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
)

func TestEmail_ConfigFromYAML(t *testing.T) {
	db := newTestDB(t)
	svc := NewEmailService(db, &config.SMTPConfig{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "mailer",
		Password: "secret",
		From:     "noreply@example.com",
		UseTLS:   true,
	})

	cfg := svc.GetConfig()
	if !cfg.Enabled {
		t.Error("Enabled should come from the yaml section")
	}
	if cfg.Host != "smtp.example.com" || cfg.Port != 2525 {
		t.Errorf("host/port = %q/%d, want smtp.example.com/2525", cfg.Host, cfg.Port)
	}
	if cfg.Username != "mailer" || cfg.From != "noreply@example.com" || !cfg.UseTLS {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestEmail_DBKeysOverrideYAML(t *testing.T) {
	db := newTestDB(t)
	svc := NewEmailService(db, &config.SMTPConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    2525,
		From:    "noreply@example.com",
	})

	configSvc := NewSystemConfigService(db)
	configSvc.Set("email_host", "relay.example.net")
	configSvc.Set("email_use_tls", "true")

	cfg := svc.GetConfig()
	if cfg.Host != "relay.example.net" {
		t.Errorf("Host = %q, admin override should win", cfg.Host)
	}
	if !cfg.UseTLS {
		t.Error("UseTLS override should apply")
	}
	// Keys the admin never touched keep their yaml values.
	if cfg.Port != 2525 || cfg.From != "noreply@example.com" {
		t.Errorf("untouched keys changed: port=%d from=%q", cfg.Port, cfg.From)
	}

	// A bad port value is ignored rather than breaking delivery.
	db.Create(&models.SystemConfig{Key: "email_port", Value: "not-a-port"})
	if cfg := svc.GetConfig(); cfg.Port != 2525 {
		t.Errorf("Port = %d, want yaml value after bad override", cfg.Port)
	}
}

func TestEmail_DefaultPort(t *testing.T) {
	db := newTestDB(t)
	svc := NewEmailService(db, &config.SMTPConfig{Host: "smtp.example.com"})

	if cfg := svc.GetConfig(); cfg.Port != 587 {
		t.Errorf("Port = %d, want the 587 default", cfg.Port)
	}
}
