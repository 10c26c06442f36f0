package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	MFA      MFAConfig      `yaml:"mfa"`
	Cookie   CookieConfig   `yaml:"cookie"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessExpireMin   int    `yaml:"access_expire_min"`
	RefreshExpireDays int    `yaml:"refresh_expire_days"`
	ChallengeTTLMin   int    `yaml:"challenge_ttl_min"`
}

// MFAConfig controls TOTP verification and the failed-attempt limiter.
type MFAConfig struct {
	Issuer          string `yaml:"issuer"`
	MaxFailures     int    `yaml:"max_failures"`
	FailureWindow   int    `yaml:"failure_window_min"`
	BackupCodeCount int    `yaml:"backup_code_count"`
}

// CookieConfig is the shared security baseline for refresh-token cookies.
type CookieConfig struct {
	Domain string `yaml:"domain"`
	Secure bool   `yaml:"secure"`
	Path   string `yaml:"path"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

type OAuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	cfg.applyDefaults()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "kvasir.db",
		},
		JWT: JWTConfig{
			Secret:            "kvasir-secret-key-change-in-production",
			AccessExpireMin:   15,
			RefreshExpireDays: 7,
			ChallengeTTLMin:   5,
		},
		MFA: MFAConfig{
			Issuer:          "Kvasir",
			MaxFailures:     5,
			FailureWindow:   15,
			BackupCodeCount: 10,
		},
		Cookie: CookieConfig{
			Secure: true,
			Path:   "/api/auth",
		},
		SMTP: SMTPConfig{
			Enabled: false,
			Port:    587,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

// applyDefaults fills zero values that would otherwise disable security limits.
func (c *Config) applyDefaults() {
	if c.JWT.AccessExpireMin <= 0 {
		c.JWT.AccessExpireMin = 15
	}
	if c.JWT.RefreshExpireDays <= 0 {
		c.JWT.RefreshExpireDays = 7
	}
	if c.JWT.ChallengeTTLMin <= 0 {
		c.JWT.ChallengeTTLMin = 5
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "Kvasir"
	}
	if c.MFA.MaxFailures <= 0 {
		c.MFA.MaxFailures = 5
	}
	if c.MFA.FailureWindow <= 0 {
		c.MFA.FailureWindow = 15
	}
	if c.MFA.BackupCodeCount <= 0 {
		c.MFA.BackupCodeCount = 10
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/api/auth"
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if issuer := os.Getenv("MFA_ISSUER"); issuer != "" {
		c.MFA.Issuer = issuer
	}
	if clientID := os.Getenv("GOOGLE_CLIENT_ID"); clientID != "" {
		c.OAuth.GoogleClientID = clientID
	}
	if clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET"); clientSecret != "" {
		c.OAuth.GoogleClientSecret = clientSecret
	}
	if redirectURL := os.Getenv("GOOGLE_REDIRECT_URL"); redirectURL != "" {
		c.OAuth.GoogleRedirectURL = redirectURL
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
