package database

import (
	"fmt"
	"log"
	"time"

	"gift-pricer/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the MySQL token database and migrates its schema.
func Initialize(databaseURL string, development bool) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	logMode := logger.Silent
	if development {
		logMode = logger.Warn
	}

	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// Migrate creates or updates the user_tokens table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.AccessToken{}); err != nil {
		return fmt.Errorf("failed to migrate user_tokens: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("Database close warning: %v", err)
	}
}
