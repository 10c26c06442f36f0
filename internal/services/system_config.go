package services

import (
	"strconv"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

type EmailConfigResponse struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	From        string `json:"from"`
	UseTLS      bool   `json:"use_tls"`
	PasswordSet bool   `json:"password_set"`
}

func (s *SystemConfigService) GetEmailConfig() *EmailConfigResponse {
	port, _ := strconv.Atoi(s.GetWithDefault("email_port", "587"))
	return &EmailConfigResponse{
		Enabled:     s.GetWithDefault("email_enabled", "false") == "true",
		Host:        s.GetWithDefault("email_host", ""),
		Port:        port,
		Username:    s.GetWithDefault("email_username", ""),
		From:        s.GetWithDefault("email_from", ""),
		UseTLS:      s.GetWithDefault("email_use_tls", "true") == "true",
		PasswordSet: s.GetWithDefault("email_password", "") != "",
	}
}

type UpdateEmailConfigRequest struct {
	Enabled  *bool   `json:"enabled"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	From     *string `json:"from"`
	UseTLS   *bool   `json:"use_tls"`
}

func (s *SystemConfigService) UpdateEmailConfig(req *UpdateEmailConfigRequest) error {
	if req.Enabled != nil {
		if err := s.Set("email_enabled", strconv.FormatBool(*req.Enabled)); err != nil {
			return err
		}
	}
	if req.Host != nil {
		if err := s.Set("email_host", *req.Host); err != nil {
			return err
		}
	}
	if req.Port != nil {
		if err := s.Set("email_port", strconv.Itoa(*req.Port)); err != nil {
			return err
		}
	}
	if req.Username != nil {
		if err := s.Set("email_username", *req.Username); err != nil {
			return err
		}
	}
	if req.Password != nil && *req.Password != "" {
		if err := s.Set("email_password", *req.Password); err != nil {
			return err
		}
	}
	if req.From != nil {
		if err := s.Set("email_from", *req.From); err != nil {
			return err
		}
	}
	if req.UseTLS != nil {
		if err := s.Set("email_use_tls", strconv.FormatBool(*req.UseTLS)); err != nil {
			return err
		}
	}
	return nil
}
