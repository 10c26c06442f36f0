package services

import (
	"testing"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	utils.SetJWTSecret("test-secret-for-service-testing")
}

// newTestDB opens a fresh in-memory database migrated with every model.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.MFABackupCode{},
		&models.AuditLog{},
		&models.Team{},
		&models.TeamMember{},
		&models.SystemConfig{},
		&models.SchedulerLock{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		Secret:            "test-secret-for-service-testing",
		AccessExpireMin:   15,
		RefreshExpireDays: 7,
		ChallengeTTLMin:   5,
	}
}

func testMFAConfig() *config.MFAConfig {
	return &config.MFAConfig{
		Issuer:          "Kvasir",
		MaxFailures:     5,
		FailureWindow:   15,
		BackupCodeCount: 8,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string) *models.User {
	t.Helper()

	hashed, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := models.User{
		Email:    email,
		Password: hashed,
		Name:     "Test User",
		Role:     "user",
		AuthType: "local",
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return &user
}
