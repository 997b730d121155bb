package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

const migrationPromoteNA = "promote_na_detection_to_pending"

// AutoMigrateModels creates or updates every table of a workspace store.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Image{},
		&models.Detection{},
		&models.Folder{},
		&models.FolderTag{},
		&models.TableState{},
		&models.AppliedMigration{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return nil
}

// RunOnce runs fn in a transaction unless a migration called name was already recorded.
// It reports whether fn ran.
func RunOnce(db *gorm.DB, name string, fn func(tx *gorm.DB) error) (bool, error) {
	ran := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var applied models.AppliedMigration
		err := tx.Where("name = ?", name).First(&applied).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		ran = true
		return tx.Create(&models.AppliedMigration{Name: name, AppliedAt: time.Now().Unix()}).Error
	})
	if err != nil {
		if IsUniqueViolation(err) {
			// another process recorded it first
			return false, nil
		}
		return false, fmt.Errorf("migration %s failed: %w", name, err)
	}
	return ran, nil
}

// PromoteNotApplicable moves legacy 'na' detection rows to 'pending', once per store.
func PromoteNotApplicable(db *gorm.DB) (bool, error) {
	return RunOnce(db, migrationPromoteNA, func(tx *gorm.DB) error {
		res := tx.Model(&models.Image{}).
			Where("detection_status = ?", StatusNA).
			Updates(map[string]interface{}{
				"detection_status":   StatusPending,
				"detection_required": true,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			log.Printf("database: promoted %d 'na' detection rows to pending", res.RowsAffected)
		}
		return nil
	})
}
