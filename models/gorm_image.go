package models

// Image is one stored file within a workspace, keyed by its path relative to the image root.
// It corresponds to the 'images' table.
type Image struct {
	RelPath    string `gorm:"primaryKey" json:"rel_path"`
	AbsPath    string `gorm:"not null" json:"abs_path"`
	FolderPath string `gorm:"not null;index:idx_images_folder" json:"folder_path"` // "" is the root folder
	Filename   string `gorm:"not null" json:"filename"`

	// StoredHash covers the bytes on disk, RawHash the payload as received (nil when equal)
	StoredHash     string  `gorm:"size:32;not null;uniqueIndex:idx_images_stored_hash" json:"stored_hash"`
	RawHash        *string `gorm:"size:32;uniqueIndex:idx_images_raw_hash" json:"raw_hash,omitempty"`
	PerceptualHash *int64  `gorm:"" json:"perceptual_hash,omitempty"`

	Size    int64  `gorm:"not null" json:"size"`
	ModTime int64  `gorm:"not null" json:"mod_time"`
	Width   *int   `gorm:"" json:"width,omitempty"`
	Height  *int   `gorm:"" json:"height,omitempty"`
	TakenAt *int64 `gorm:"" json:"taken_at,omitempty"` // EXIF capture time, unix seconds

	// Stale is set by reindex when the file is gone from disk
	Stale bool `gorm:"not null;index:idx_images_stale" json:"stale"`

	ClassificationStatus string   `gorm:"not null;index:idx_images_classification" json:"classification_status"`
	SafeScore            *float64 `gorm:"" json:"safe_score,omitempty"`
	UnsafeScore          *float64 `gorm:"" json:"unsafe_score,omitempty"`
	Result               *string  `gorm:"index:idx_images_result" json:"result,omitempty"`
	ClassificationError  *string  `gorm:"" json:"classification_error,omitempty"`

	DetectionRequired    bool    `gorm:"not null" json:"detection_required"`
	DetectionStatus      string  `gorm:"not null;index:idx_images_detection" json:"detection_status"`
	DetectionError       *string `gorm:"" json:"detection_error,omitempty"`
	ClaimedAt            *int64  `gorm:"" json:"claimed_at,omitempty"` // lease start while processing
	DetectionProcessedAt *int64  `gorm:"" json:"detection_processed_at,omitempty"`

	CreatedAt int64 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt int64 `gorm:"autoUpdateTime" json:"updated_at"`

	Detections []Detection `gorm:"foreignKey:ImagePath;references:RelPath" json:"detections,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Image) TableName() string {
	return "images"
}
