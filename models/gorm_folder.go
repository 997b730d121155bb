package models

// Folder is the derived rollup for one folder path. It is never the source of truth.
type Folder struct {
	Path          string `gorm:"primaryKey" json:"path"`
	Name          string `gorm:"not null" json:"name"`
	SearchKey     string `gorm:"not null;index:idx_folders_search" json:"-"`
	TotalImages   int64  `gorm:"not null" json:"total_images"`
	PendingImages int64  `gorm:"not null" json:"pending_images"`

	// AvatarKey identifies the detection the cached avatar was cut from (image|score|label)
	AvatarKey  *string `gorm:"" json:"-"`
	AvatarPath *string `gorm:"" json:"avatar_path,omitempty"`

	UpdatedAt int64 `gorm:"autoUpdateTime" json:"updated_at"`

	Tags map[string]int64 `gorm:"-" json:"tags,omitempty"`
}

func (Folder) TableName() string {
	return "folders"
}

// FolderTag is one bucket of a folder's tag histogram: distinct images bearing Label.
type FolderTag struct {
	FolderPath string `gorm:"primaryKey" json:"folder_path"`
	Label      string `gorm:"primaryKey;index:idx_folder_tags_label" json:"label"`
	ImageCount int64  `gorm:"not null" json:"image_count"`
}

func (FolderTag) TableName() string {
	return "folder_tags"
}
