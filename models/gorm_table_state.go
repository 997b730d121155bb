package models

// TableState is the crawler cursor for one source table.
type TableState struct {
	SourceTable string `gorm:"primaryKey;column:source_table" json:"table"`
	LastID      int64  `gorm:"not null" json:"last_id"`
	MaxID       int64  `gorm:"not null" json:"max_id"`
	HasMore     bool   `gorm:"not null" json:"has_more"`
	UpdatedAt   int64  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TableState) TableName() string {
	return "table_states"
}

// AppliedMigration records one-time data migrations already run against a workspace store.
type AppliedMigration struct {
	Name      string `gorm:"primaryKey"`
	AppliedAt int64  `gorm:"not null"`
}

func (AppliedMigration) TableName() string {
	return "applied_migrations"
}
