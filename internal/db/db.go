// Package db opens the relational store and prepares the schema.
package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

// Open dials the database named by url. A postgres:// scheme selects the
// Postgres driver; anything else is treated as a SQLite DSN, which keeps
// local development dependency-free.
func Open(url string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		dialector = postgres.Open(url)
	} else {
		dialector = sqlite.Open(url)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates the schema for every persisted type.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&domain.User{},
		&domain.Credential{},
		&domain.Category{},
		&domain.SurveyForm{},
		&domain.SurveyResponse{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

var defaultCategories = []domain.Category{
	{Name: "Customer Feedback", Description: "Satisfaction and support experience surveys"},
	{Name: "Market Research", Description: "Product and market fit questionnaires"},
	{Name: "Employee Engagement", Description: "Internal culture and engagement pulses"},
	{Name: "Event Feedback", Description: "Pre and post event questionnaires"},
	{Name: "Academic", Description: "Research and coursework data collection"},
}

// SeedCategories inserts the built-in categories, skipping any that already
// exist.
func SeedCategories(gdb *gorm.DB) error {
	for _, category := range defaultCategories {
		err := gdb.Where(domain.Category{Name: category.Name}).
			Attrs(domain.Category{Description: category.Description}).
			FirstOrCreate(&domain.Category{}).Error
		if err != nil {
			return fmt.Errorf("seed category %s: %w", category.Name, err)
		}
	}
	return nil
}
