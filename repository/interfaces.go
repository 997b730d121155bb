package repository

import (
	"time"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

// ImageRepositoryInterface defines the methods for image data operations
type ImageRepositoryInterface interface {
	BatchExists(hashes []string) (map[string]bool, error)
	Exists(hash string) (bool, error)
	Create(image *models.Image) error
	PathIndexed(relPath string) (bool, error)
	GetByPath(relPath string) (*models.Image, error)
	ListByFolder(folder, order string) ([]models.Image, error)
	Delete(relPath string) error
	ClaimNext(now time.Time, lease time.Duration) (*models.Image, error)
	CompleteDetection(relPath string, claimedAt int64, outcome DetectionOutcome) (bool, error)
	FailDetection(relPath string, claimedAt int64, message string, now time.Time) (bool, error)
	ResetAll() (int64, error)
	Stats() (*Stats, error)
	NearDuplicates(relPath string, maxDistance int) ([]NearDuplicate, error)
}

// DetectionRepositoryInterface defines the methods for detection data operations
type DetectionRepositoryInterface interface {
	Replace(imagePath string, detections []models.Detection) error
	ListByImage(imagePath string) ([]models.Detection, error)
	DistinctLabels(imagePath string) ([]string, error)
	LabelsByFolder(folder string) (map[string][]string, error)
	DeleteByImage(imagePath string) error
	DeleteAll() error
	AvatarCandidates(folder string, labels []string) ([]AvatarCandidate, error)
}

// FolderRepositoryInterface defines the methods for folder rollup operations
type FolderRepositoryInterface interface {
	Get(path string) (*models.Folder, error)
	List(q FolderQuery) ([]models.Folder, int64, error)
	AdjustCounts(path string, totalDelta, pendingDelta int64) error
	AdjustTag(path, label string, delta int64) error
	SetAvatar(path string, key, avatarPath *string) error
	ClearAvatars() ([]string, error)
	Rebuild() error
}

// TableStateRepositoryInterface defines the methods for crawler cursor operations
type TableStateRepositoryInterface interface {
	Get(table string) (*models.TableState, error)
	Save(state *models.TableState) error
	List() ([]models.TableState, error)
}

var (
	_ ImageRepositoryInterface      = (*ImageRepository)(nil)
	_ DetectionRepositoryInterface  = (*DetectionRepository)(nil)
	_ FolderRepositoryInterface     = (*FolderRepository)(nil)
	_ TableStateRepositoryInterface = (*TableStateRepository)(nil)
)
