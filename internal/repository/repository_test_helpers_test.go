package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

// openTestDB gives each test its own in-memory database. A single connection
// keeps SQLite from seeing a fresh empty database per pool connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.AutoMigrate(
		&domain.User{},
		&domain.Credential{},
		&domain.Category{},
		&domain.SurveyForm{},
		&domain.SurveyResponse{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedUser(t *testing.T, gdb *gorm.DB, email string, active bool, lastLogin *time.Time) *domain.User {
	t.Helper()
	user := &domain.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "x",
		Role:         domain.RoleUser,
		IsActive:     active,
		LastLoginAt:  lastLogin,
	}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedCredential(t *testing.T, repo CredentialRepository, ownerID uint, kind domain.CredentialKind, digest string, expiresAt time.Time) *domain.Credential {
	t.Helper()
	c := &domain.Credential{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           kind,
		Digest:         digest,
		TruncatedValue: "suffix1234",
		IsActive:       true,
		ExpiresAt:      expiresAt,
	}
	if err := repo.Insert(context.Background(), c); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return c
}
