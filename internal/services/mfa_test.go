package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/utils"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

func newMFAService(t *testing.T) (*MFAService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	audit := NewAuditService(db)
	refreshSvc := NewRefreshTokenService(db, audit, 7)
	return NewMFAService(db, testJWTConfig(), testMFAConfig(), refreshSvc, audit), db
}

// enrollMFA flips MFA on for the user with a freshly generated TOTP secret
// and returns the secret.
func enrollMFA(t *testing.T, db *gorm.DB, user *models.User) string {
	t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "Kvasir", AccountName: user.Email})
	if err != nil {
		t.Fatalf("failed to generate TOTP key: %v", err)
	}

	err = db.Model(user).Updates(map[string]interface{}{
		"mfa_enabled": true,
		"totp_secret": key.Secret(),
	}).Error
	if err != nil {
		t.Fatalf("failed to enroll user: %v", err)
	}
	user.MFAEnabled = true
	user.TOTPSecret = key.Secret()
	return key.Secret()
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("failed to generate TOTP code: %v", err)
	}
	return code
}

func challengeFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := utils.GenerateChallengeToken(user.ID, user.Email, 5)
	if err != nil {
		t.Fatalf("failed to generate challenge token: %v", err)
	}
	return token
}

func TestMFA_VerifyChallengeWithTOTP(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)

	session, err := svc.VerifyChallenge(challengeFor(t, user), currentTOTP(t, secret), "laptop", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}

	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("a verified challenge should open a full session")
	}
	if len(session.AMR) != 2 || session.AMR[0] != "pwd" || session.AMR[1] != "mfa" {
		t.Errorf("AMR = %v, want [pwd mfa]", session.AMR)
	}

	// The access token itself carries the elevated claims.
	claims, err := utils.ParseToken(session.AccessToken)
	if err != nil {
		t.Fatalf("access token should parse: %v", err)
	}
	if len(claims.AMR) != 2 || claims.AMR[1] != "mfa" {
		t.Errorf("token AMR = %v, want [pwd mfa]", claims.AMR)
	}

	var success int64
	db.Model(&models.AuditLog{}).Where("action = ?", models.AuditMFAChallengeSuccess).Count(&success)
	if success != 1 {
		t.Errorf("expected 1 success audit row, got %d", success)
	}
}

func TestMFA_VerifyChallengeWrongCode(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	enrollMFA(t, db, user)

	_, err := svc.VerifyChallenge(challengeFor(t, user), "000000", "", "10.0.0.1", "test-agent")
	if !errors.Is(err, ErrMFAUnauthorized) {
		t.Fatalf("expected ErrMFAUnauthorized, got %v", err)
	}

	var failed int64
	db.Model(&models.AuditLog{}).Where("action = ?", models.AuditMFAChallengeFailed).Count(&failed)
	if failed != 1 {
		t.Errorf("expected 1 failure audit row, got %d", failed)
	}
}

func TestMFA_TOTPSkewWindow(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)

	// One step of clock drift on either side still verifies.
	for _, offset := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, time.Now().Add(offset))
		if err != nil {
			t.Fatalf("generate code at %v: %v", offset, err)
		}
		if _, err := svc.VerifyChallenge(challengeFor(t, user), code, "", "10.0.0.1", ""); err != nil {
			t.Errorf("code from %v away should verify: %v", offset, err)
		}
	}

	// Three steps of drift is outside the window.
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		code, err := totp.GenerateCode(secret, time.Now().Add(offset))
		if err != nil {
			t.Fatalf("generate code at %v: %v", offset, err)
		}
		if _, err := svc.VerifyChallenge(challengeFor(t, user), code, "", "10.0.0.1", ""); !errors.Is(err, ErrMFAUnauthorized) {
			t.Errorf("code from %v away: expected ErrMFAUnauthorized, got %v", offset, err)
		}
	}
}

func TestMFA_VerifyChallengeBadToken(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)

	// Garbage token.
	if _, err := svc.VerifyChallenge("not.a.token", currentTOTP(t, secret), "", "", ""); !errors.Is(err, ErrMFAUnauthorized) {
		t.Errorf("garbage token: expected ErrMFAUnauthorized, got %v", err)
	}

	// An access token must not pass as a challenge token.
	access, err := utils.GenerateAccessToken(user.ID, user.Email, user.Role, []string{"pwd"}, 15)
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}
	if _, err := svc.VerifyChallenge(access, currentTOTP(t, secret), "", "", ""); !errors.Is(err, ErrMFAUnauthorized) {
		t.Errorf("access token as challenge: expected ErrMFAUnauthorized, got %v", err)
	}
}

func TestMFA_VerifyChallengeAfterDisable(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)
	challenge := challengeFor(t, user)

	// MFA is switched off between challenge issuance and verification.
	db.Model(user).Updates(map[string]interface{}{"mfa_enabled": false, "totp_secret": ""})

	if _, err := svc.VerifyChallenge(challenge, currentTOTP(t, secret), "", "", ""); !errors.Is(err, ErrMFAUnauthorized) {
		t.Errorf("expected ErrMFAUnauthorized, got %v", err)
	}
}

func TestMFA_RateLimitBlocksEvenCorrectCode(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)

	// Burn through the allowed failures.
	for i := 0; i < testMFAConfig().MaxFailures; i++ {
		if _, err := svc.VerifyChallenge(challengeFor(t, user), "000000", "", "10.0.0.1", ""); !errors.Is(err, ErrMFAUnauthorized) {
			t.Fatalf("attempt %d: expected ErrMFAUnauthorized, got %v", i, err)
		}
	}

	// Now even the correct code is turned away.
	_, err := svc.VerifyChallenge(challengeFor(t, user), currentTOTP(t, secret), "", "10.0.0.1", "")
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestMFA_RateLimitWindowExpires(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	secret := enrollMFA(t, db, user)

	for i := 0; i < testMFAConfig().MaxFailures; i++ {
		svc.VerifyChallenge(challengeFor(t, user), "000000", "", "", "")
	}

	// Age the failure rows past the rolling window.
	stale := time.Now().Add(-time.Duration(testMFAConfig().FailureWindow+1) * time.Minute)
	db.Model(&models.AuditLog{}).
		Where("action = ?", models.AuditMFAChallengeFailed).
		Update("created_at", stale)

	if _, err := svc.VerifyChallenge(challengeFor(t, user), currentTOTP(t, secret), "", "", ""); err != nil {
		t.Fatalf("limiter should reset once the window passes: %v", err)
	}
}

func TestMFA_BackupCodeSingleUse(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	enrollMFA(t, db, user)

	codes, err := svc.GenerateBackupCodes(user.ID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(codes) != testMFAConfig().BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", testMFAConfig().BackupCodeCount, len(codes))
	}

	// First use succeeds.
	session, err := svc.VerifyChallenge(challengeFor(t, user), codes[0], "", "", "")
	if err != nil {
		t.Fatalf("first use of backup code: %v", err)
	}
	if len(session.AMR) != 2 || session.AMR[1] != "mfa" {
		t.Errorf("backup code session AMR = %v, want [pwd mfa]", session.AMR)
	}

	// Second use of the same code is rejected.
	if _, err := svc.VerifyChallenge(challengeFor(t, user), codes[0], "", "", ""); !errors.Is(err, ErrMFAUnauthorized) {
		t.Fatalf("reused backup code should be rejected, got %v", err)
	}

	remaining, err := svc.RemainingBackupCodes(user.ID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != int64(len(codes)-1) {
		t.Errorf("remaining = %d, want %d", remaining, len(codes)-1)
	}

	// A different code still works.
	if _, err := svc.VerifyChallenge(challengeFor(t, user), codes[1], "", "", ""); err != nil {
		t.Errorf("an unused code should still work: %v", err)
	}
}

func TestMFA_BackupCodeNormalization(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	enrollMFA(t, db, user)

	codes, err := svc.GenerateBackupCodes(user.ID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	// Lowercased with stray whitespace still matches.
	sloppy := "  " + strings.ToLower(codes[0]) + " "
	if _, err := svc.VerifyChallenge(challengeFor(t, user), sloppy, "", "", ""); err != nil {
		t.Errorf("whitespace-padded code should match: %v", err)
	}
}

func TestMFA_SetupAndActivate(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")

	setup, err := svc.Setup(user.ID)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if setup.Secret == "" || setup.OTPURL == "" {
		t.Fatal("setup should return a secret and provisioning URL")
	}

	// MFA is not on yet.
	var pending models.User
	db.First(&pending, user.ID)
	if pending.MFAEnabled {
		t.Fatal("MFA must stay off until activation")
	}

	// A wrong code does not activate.
	if _, err := svc.Activate(user.ID, "000000", "", ""); err == nil {
		t.Fatal("activation with a wrong code should fail")
	}

	codes, err := svc.Activate(user.ID, currentTOTP(t, setup.Secret), "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(codes) != testMFAConfig().BackupCodeCount {
		t.Errorf("expected %d backup codes, got %d", testMFAConfig().BackupCodeCount, len(codes))
	}

	var enabled models.User
	db.First(&enabled, user.ID)
	if !enabled.MFAEnabled {
		t.Error("MFA should be enabled after activation")
	}

	// Setup again now conflicts.
	if _, err := svc.Setup(user.ID); err == nil {
		t.Error("setup while enabled should be rejected")
	}
}

func TestMFA_DisableRequiresPassword(t *testing.T) {
	svc, db := newMFAService(t)
	user := createTestUser(t, db, "alice@example.com", "password123")
	enrollMFA(t, db, user)
	if _, err := svc.GenerateBackupCodes(user.ID); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	if err := svc.Disable(user.ID, "wrong-password", "", ""); err == nil {
		t.Fatal("disable with wrong password should fail")
	}

	if err := svc.Disable(user.ID, "password123", "", ""); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	var after models.User
	db.First(&after, user.ID)
	if after.MFAEnabled || after.TOTPSecret != "" {
		t.Error("disable should clear the MFA state")
	}

	var leftover int64
	db.Model(&models.MFABackupCode{}).Where("user_id = ?", user.ID).Count(&leftover)
	if leftover != 0 {
		t.Errorf("disable should delete backup codes, %d left", leftover)
	}
}

func TestIsTOTPCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{"ABCD-EFGH", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isTOTPCode(tc.code); got != tc.want {
			t.Errorf("isTOTPCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
