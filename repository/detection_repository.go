package repository

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

const detectionBatchSize = 200

// DetectionRepository handles database operations for Detection entities
type DetectionRepository struct {
	DB *gorm.DB
}

// NewDetectionRepository creates a new instance of DetectionRepository
func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{DB: db}
}

func (r *DetectionRepository) WithTx(tx *gorm.DB) *DetectionRepository {
	return &DetectionRepository{DB: tx}
}

// Replace drops every detection of imagePath and inserts the new set. Run it inside the
// caller's transaction so the image never shows a mix of old and new rows.
func (r *DetectionRepository) Replace(imagePath string, detections []models.Detection) error {
	if err := r.DeleteByImage(imagePath); err != nil {
		return err
	}
	if len(detections) == 0 {
		return nil
	}

	now := time.Now().Unix()
	rows := make([]models.Detection, len(detections))
	for i, d := range detections {
		d.ID = 0
		d.ImagePath = imagePath
		d.CreatedAt = now
		rows[i] = d
	}
	if err := r.DB.CreateInBatches(&rows, detectionBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert detections for %s: %w", imagePath, err)
	}
	return nil
}

// ListByImage returns an image's detections, best score first.
func (r *DetectionRepository) ListByImage(imagePath string) ([]models.Detection, error) {
	var detections []models.Detection
	err := r.DB.Where("image_path = ?", imagePath).Order("score DESC, id ASC").Find(&detections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list detections for %s: %w", imagePath, err)
	}
	return detections, nil
}

// DistinctLabels returns the set of labels currently stored for an image.
func (r *DetectionRepository) DistinctLabels(imagePath string) ([]string, error) {
	var labels []string
	err := r.DB.Model(&models.Detection{}).
		Where("image_path = ?", imagePath).
		Distinct().
		Order("label").
		Pluck("label", &labels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list labels for %s: %w", imagePath, err)
	}
	return labels, nil
}

// LabelsByFolder returns, for every image directly inside folder that has detections, its
// distinct labels in name order.
func (r *DetectionRepository) LabelsByFolder(folder string) (map[string][]string, error) {
	sqlStr, args, err := database.Builder.
		Select("d.image_path", "d.label").
		Distinct().
		From("detections d").
		Join("images i ON i.rel_path = d.image_path").
		Where(sq.Eq{"i.folder_path": folder}).
		OrderBy("d.image_path", "d.label").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for LabelsByFolder: %w", err)
	}

	var rows []struct {
		ImagePath string
		Label     string
	}
	if err := r.DB.Raw(sqlStr, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query labels for folder '%s': %w", folder, err)
	}
	out := make(map[string][]string)
	for _, row := range rows {
		out[row.ImagePath] = append(out[row.ImagePath], row.Label)
	}
	return out, nil
}

func (r *DetectionRepository) DeleteByImage(imagePath string) error {
	if err := r.DB.Where("image_path = ?", imagePath).Delete(&models.Detection{}).Error; err != nil {
		return fmt.Errorf("failed to delete detections for %s: %w", imagePath, err)
	}
	return nil
}

// DeleteAll empties the detections table of the workspace.
func (r *DetectionRepository) DeleteAll() error {
	if err := r.DB.Where("1 = 1").Delete(&models.Detection{}).Error; err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}

// AvatarCandidate is a boxed detection inside a folder, with the file it belongs to.
type AvatarCandidate struct {
	ImagePath string
	AbsPath   string
	Label     string
	Score     float64
	X1        int
	Y1        int
	X2        int
	Y2        int
}

// AvatarCandidates lists boxed, non-ignored detections with one of labels in folder. The
// lookup is bounded by the folder index.
func (r *DetectionRepository) AvatarCandidates(folder string, labels []string) ([]AvatarCandidate, error) {
	sqlStr, args, err := database.Builder.
		Select("d.image_path", "i.abs_path", "d.label", "d.score", "d.x1", "d.y1", "d.x2", "d.y2").
		From("detections d").
		Join("images i ON i.rel_path = d.image_path").
		Where(sq.Eq{"i.folder_path": folder, "d.label": labels, "d.ignored": false, "i.stale": false}).
		Where("d.x1 IS NOT NULL AND d.y1 IS NOT NULL AND d.x2 IS NOT NULL AND d.y2 IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for AvatarCandidates: %w", err)
	}

	var out []AvatarCandidate
	if err := r.DB.Raw(sqlStr, args...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query avatar candidates for '%s': %w", folder, err)
	}
	return out, nil
}
