package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

// TableStateRepository persists crawler cursors per source table.
type TableStateRepository struct {
	DB *gorm.DB
}

func NewTableStateRepository(db *gorm.DB) *TableStateRepository {
	return &TableStateRepository{DB: db}
}

// Get returns the cursor for table, or a fresh zero cursor when none was saved yet.
func (r *TableStateRepository) Get(table string) (*models.TableState, error) {
	var state models.TableState
	err := r.DB.Where("source_table = ?", table).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.TableState{SourceTable: table, HasMore: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table state for %s: %w", table, err)
	}
	return &state, nil
}

// Save upserts the cursor.
func (r *TableStateRepository) Save(state *models.TableState) error {
	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_table"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_id", "max_id", "has_more", "updated_at"}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("failed to save table state for %s: %w", state.SourceTable, err)
	}
	return nil
}

func (r *TableStateRepository) List() ([]models.TableState, error) {
	var states []models.TableState
	if err := r.DB.Order("source_table").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list table states: %w", err)
	}
	return states, nil
}
