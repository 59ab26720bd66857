package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-datakeeper/internal/config"
	"crm-datakeeper/internal/crm"
)

// Open connects to the engine database described by cfg.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql", "mariadb":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		db, err := gorm.Open(mysql.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open mysql database %s: %w", cfg.Database, err)
		}
		return db, nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
		db, err := gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres database %s: %w", cfg.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// EngineModels returns the models owned by the engine itself.
func EngineModels() []interface{} {
	return []interface{}{
		&BackupJob{},
		&MergeJob{},
		&DataIntegrityCheck{},
	}
}

// AutoMigrate migrates the engine tables and the CRM schema.
func AutoMigrate(db *gorm.DB) error {
	models := append(EngineModels(), crm.AllModels()...)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// LatestCompletedFull returns the most recent COMPLETED FULL backup job for a
// tenant, ordered by completion time, or nil when none exists.
func LatestCompletedFull(db *gorm.DB, tenantID string) (*BackupJob, error) {
	var job BackupJob
	err := db.Where("tenant_id = ? AND type = ? AND status = ?",
		tenantID, BackupTypeFull, BackupStatusCompleted).
		Order("completed_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
