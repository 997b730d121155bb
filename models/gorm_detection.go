package models

// Detection is one labeled region the detector reported for an image.
// It corresponds to the 'detections' table.
type Detection struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ImagePath string  `gorm:"not null;index:idx_detections_image" json:"image_path"`
	Label     string  `gorm:"not null;index:idx_detections_label" json:"label"`
	Score     float64 `gorm:"not null" json:"score"`
	X1        *int    `gorm:"" json:"x1,omitempty"`
	Y1        *int    `gorm:"" json:"y1,omitempty"`
	X2        *int    `gorm:"" json:"x2,omitempty"`
	Y2        *int    `gorm:"" json:"y2,omitempty"`

	// Ignored rows are kept for inspection but never influence the verdict
	Ignored bool `gorm:"not null" json:"ignored"`

	CreatedAt int64 `gorm:"autoCreateTime" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (Detection) TableName() string {
	return "detections"
}

// HasBox reports whether all four corners are present.
func (d Detection) HasBox() bool {
	return d.X1 != nil && d.Y1 != nil && d.X2 != nil && d.Y2 != nil
}
