package utils

import (
	"errors"
	"testing"
	"time"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestGenerateAccessToken(t *testing.T) {
	token, err := GenerateAccessToken(42, "user@example.com", "admin", []string{"pwd", "mfa"}, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if len(token) < 50 {
		t.Errorf("token seems too short: %d chars", len(token))
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, expected 42", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("Email = %q, expected %q", claims.Email, "user@example.com")
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, expected %q", claims.Role, "admin")
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("TokenType = %q, expected %q", claims.TokenType, TokenTypeAccess)
	}
	if len(claims.AMR) != 2 || claims.AMR[0] != "pwd" || claims.AMR[1] != "mfa" {
		t.Errorf("AMR = %v, expected [pwd mfa]", claims.AMR)
	}
}

func TestGenerateAccessToken_DifferentTokens(t *testing.T) {
	token1, _ := GenerateAccessToken(1, "a@example.com", "user", []string{"pwd"}, 15)
	token2, _ := GenerateAccessToken(2, "b@example.com", "user", []string{"pwd"}, 15)

	if token1 == token2 {
		t.Error("different users should produce different tokens")
	}
}

// Every Parse* function must reject tokens of the other three types, even
// though they carry a valid signature from the same secret.
func TestParseToken_TypeIsolation(t *testing.T) {
	access, _ := GenerateAccessToken(1, "user@example.com", "user", []string{"pwd"}, 15)
	challenge, _ := GenerateChallengeToken(1, "user@example.com", 5)
	verify, _ := GenerateVerifyToken(1, "user@example.com", time.Hour)
	reset, _ := GenerateResetToken(1, "user@example.com", 30*time.Minute)

	parsers := map[string]func(string) (*Claims, error){
		"access":    ParseToken,
		"challenge": ParseChallengeToken,
		"verify":    ParseVerifyToken,
		"reset":     ParseResetToken,
	}
	tokens := map[string]string{
		"access":    access,
		"challenge": challenge,
		"verify":    verify,
		"reset":     reset,
	}

	for parserName, parse := range parsers {
		for tokenName, token := range tokens {
			_, err := parse(token)
			if parserName == tokenName {
				if err != nil {
					t.Errorf("%s parser rejected its own token: %v", parserName, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s parser accepted a %s token", parserName, tokenName)
			}
			if !errors.Is(err, ErrWrongTokenType) && !errors.Is(err, ErrWrongAudience) {
				t.Errorf("%s parser / %s token: err = %v, expected type or audience mismatch", parserName, tokenName, err)
			}
		}
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	invalidTokens := []string{
		"",
		"invalid",
		"not.a.token",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	}

	for _, token := range invalidTokens {
		_, err := ParseToken(token)
		if err == nil {
			t.Errorf("ParseToken(%q) should return error", token)
		}
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	SetJWTSecret("original-secret")
	token, _ := GenerateAccessToken(1, "user@example.com", "user", []string{"pwd"}, 15)

	SetJWTSecret("different-secret")
	_, err := ParseToken(token)

	SetJWTSecret("test-secret-key-for-testing")

	if err == nil {
		t.Error("ParseToken should fail with wrong secret")
	}
}

func TestChallengeToken_CarriesNoRole(t *testing.T) {
	token, err := GenerateChallengeToken(7, "user@example.com", 5)
	if err != nil {
		t.Fatalf("GenerateChallengeToken() error = %v", err)
	}

	claims, err := ParseChallengeToken(token)
	if err != nil {
		t.Fatalf("ParseChallengeToken() error = %v", err)
	}
	if claims.Role != "" {
		t.Errorf("challenge token Role = %q, expected empty", claims.Role)
	}
	if len(claims.AMR) != 0 {
		t.Errorf("challenge token AMR = %v, expected empty", claims.AMR)
	}
}

func TestGenerateAccessToken_Expiration(t *testing.T) {
	token, _ := GenerateAccessToken(1, "user@example.com", "user", []string{"pwd"}, 15)
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	expiresAt := claims.ExpiresAt.Time
	now := time.Now()

	if expiresAt.Before(now) {
		t.Error("token should not be expired immediately")
	}

	expectedExpiry := now.Add(15 * time.Minute)
	diff := expiresAt.Sub(expectedExpiry)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiration time is off by more than 1 minute: %v", diff)
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, _ := GenerateVerifyToken(1, "user@example.com", -time.Minute)
	if _, err := ParseVerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v, expected ErrInvalidToken", err)
	}
}
