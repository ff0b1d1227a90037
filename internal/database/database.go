package database

import (
	"knowte-api/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the service migrates.
func Models() []any {
	return []any{
		&models.User{},
		&models.Room{},
		&models.CacheEntry{},
	}
}

// Open connects to the SQLite database at path and runs migrations.
// glebarez/sqlite is pure Go, so no CGO is required.
func Open(path string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	logrus.WithField("path", path).Info("Database connected and migrated")
	return db, nil
}
