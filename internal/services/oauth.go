package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleAuthService handles the Google OAuth2 code exchange and provisions
// accounts on first sign-in. The MFA challenge step still applies afterwards
// when the user has it enabled.
type GoogleAuthService struct {
	db     *gorm.DB
	config *oauth2.Config
}

func NewGoogleAuthService(db *gorm.DB, cfg *config.OAuthConfig) *GoogleAuthService {
	return &GoogleAuthService{
		db: db,
		config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
	}
}

func (s *GoogleAuthService) Enabled() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

// AuthCodeURL builds the consent-page redirect for the given state value.
func (s *GoogleAuthService) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state)
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// HandleCallback exchanges the authorization code, fetches the profile, and
// finds or creates the matching account. Google-asserted addresses count as
// verified.
func (s *GoogleAuthService) HandleCallback(ctx context.Context, code string) (*models.User, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, response.NewUnauthorized("failed to exchange authorization code")
	}

	info, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	if info.Email == "" {
		return nil, response.NewUnauthorized("provider returned no email address")
	}

	var user models.User
	err = s.db.Where("email = ?", info.Email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Email:         info.Email,
			Name:          info.Name,
			Avatar:        info.Picture,
			Role:          "user",
			AuthType:      "google",
			IsActive:      true,
			EmailVerified: true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, response.NewUnauthorized("account is disabled")
	}

	// Refresh profile fields from the provider.
	user.Name = info.Name
	user.Avatar = info.Picture
	user.EmailVerified = true
	s.db.Save(&user)

	return &user, nil
}

func (s *GoogleAuthService) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := s.config.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: %s", resp.Status)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
