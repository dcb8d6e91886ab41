package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"serial-telemetry/internal/model"
)

// insertBatchSize keeps a single INSERT under SQLite's bound-variable limit.
const insertBatchSize = 200

// openORM opens a GORM SQLite connection backed by the modernc driver.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.Session{}, &model.SampleRecord{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// insertSamples persists rows in one transaction; either all rows land or none.
func insertSamples(ctx context.Context, db *gorm.DB, rows []model.SampleRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
}

// upsertSession inserts or updates a session row.
func upsertSession(ctx context.Context, db *gorm.DB, s *model.Session) error {
	return db.WithContext(ctx).Omit("Samples").Save(s).Error
}

// deleteSession removes a session and its samples.
func deleteSession(ctx context.Context, db *gorm.DB, sessionID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.SampleRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&model.Session{}).Error
	})
}
