package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

// Token type discriminators. A token minted for one purpose must never
// decode as another.
const (
	TokenTypeAccess       = "access"
	TokenTypeMFAChallenge = "mfa_challenge"
	TokenTypeEmailVerify  = "email_verification"
	TokenTypeReset        = "password_reset"
)

// Audiences restrict each token class to its consuming endpoint.
const (
	AudienceAPI    = "kvasir:api"
	AudienceMFA    = "kvasir:mfa"
	AudienceVerify = "kvasir:verify"
	AudienceReset  = "kvasir:reset"
)

var (
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrWrongAudience    = errors.New("wrong token audience")
	ErrUnexpectedMethod = errors.New("unexpected signing method")
)

// SetJWTSecret sets the secret key for JWT signing
func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// Claims represents the JWT claims carried by every Kvasir token.
// AMR records the authentication methods used ("pwd", "mfa") so downstream
// authorization can distinguish password-only from password+MFA sessions.
type Claims struct {
	UserID    uint     `json:"user_id"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	TokenType string   `json:"token_type"`
	AMR       []string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a signed short-lived access token.
func GenerateAccessToken(userID uint, email, role string, amr []string, expireMin int) (string, error) {
	return generateToken(userID, email, role, TokenTypeAccess, AudienceAPI, amr, time.Duration(expireMin)*time.Minute)
}

// GenerateChallengeToken creates the short-lived token handed out after a
// successful password check when the user has MFA enabled. It is not a
// session: its only valid use is the MFA verification endpoint.
func GenerateChallengeToken(userID uint, email string, ttlMin int) (string, error) {
	return generateToken(userID, email, "", TokenTypeMFAChallenge, AudienceMFA, nil, time.Duration(ttlMin)*time.Minute)
}

// GenerateVerifyToken creates an email-verification token.
func GenerateVerifyToken(userID uint, email string, ttl time.Duration) (string, error) {
	return generateToken(userID, email, "", TokenTypeEmailVerify, AudienceVerify, nil, ttl)
}

// GenerateResetToken creates a password-reset token.
func GenerateResetToken(userID uint, email string, ttl time.Duration) (string, error) {
	return generateToken(userID, email, "", TokenTypeReset, AudienceReset, nil, ttl)
}

func generateToken(userID uint, email, role, tokenType, audience string, amr []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: tokenType,
		AMR:       amr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseToken parses and validates an access token.
func ParseToken(tokenString string) (*Claims, error) {
	return parseToken(tokenString, TokenTypeAccess, AudienceAPI)
}

// ParseChallengeToken parses and validates an MFA challenge token. A token of
// any other type or audience is rejected even when the signature is good.
func ParseChallengeToken(tokenString string) (*Claims, error) {
	return parseToken(tokenString, TokenTypeMFAChallenge, AudienceMFA)
}

// ParseVerifyToken parses and validates an email-verification token.
func ParseVerifyToken(tokenString string) (*Claims, error) {
	return parseToken(tokenString, TokenTypeEmailVerify, AudienceVerify)
}

// ParseResetToken parses and validates a password-reset token.
func ParseResetToken(tokenString string) (*Claims, error) {
	return parseToken(tokenString, TokenTypeReset, AudienceReset)
}

func parseToken(tokenString, wantType, wantAudience string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedMethod
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongTokenType
	}
	if !audienceContains(claims.Audience, wantAudience) {
		return nil, ErrWrongAudience
	}

	return claims, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
