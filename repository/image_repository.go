package repository

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/utils"
)

const (
	// hashes per IN list; each chunk is matched against two columns
	existsChunkSize = 400

	maxClaimAttempts = 5
)

// ErrClaimContention means every claim attempt lost its race to another caller.
var ErrClaimContention = errors.New("could not claim a pending image under contention")

// ImageRepository handles database operations for Image entities, including the dedupe index.
type ImageRepository struct {
	DB *gorm.DB
}

// NewImageRepository creates a new instance of ImageRepository
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *ImageRepository) WithTx(tx *gorm.DB) *ImageRepository {
	return &ImageRepository{DB: tx}
}

// BatchExists answers, in one round trip per chunk, which of hashes are already recorded as
// either a stored or a raw fingerprint.
func (r *ImageRepository) BatchExists(hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}

	wanted := make(map[string]bool, len(hashes))
	unique := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h != "" && !wanted[h] {
			wanted[h] = true
			unique = append(unique, h)
		}
	}

	for start := 0; start < len(unique); start += existsChunkSize {
		end := start + existsChunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		sqlStr, args, err := database.Builder.Select("stored_hash", "raw_hash").
			From("images").
			Where(sq.Or{sq.Eq{"stored_hash": chunk}, sq.Eq{"raw_hash": chunk}}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build SQL query for BatchExists: %w", err)
		}

		var rows []struct {
			StoredHash string
			RawHash    *string
		}
		if err := r.DB.Raw(sqlStr, args...).Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to query existing hashes: %w", err)
		}
		for _, row := range rows {
			if wanted[row.StoredHash] {
				found[row.StoredHash] = true
			}
			if row.RawHash != nil && wanted[*row.RawHash] {
				found[*row.RawHash] = true
			}
		}
	}
	return found, nil
}

// Exists checks a single fingerprint against both hash columns.
func (r *ImageRepository) Exists(hash string) (bool, error) {
	var count int64
	err := r.DB.Model(&models.Image{}).
		Where("stored_hash = ? OR raw_hash = ?", hash, hash).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check hash %s: %w", hash, err)
	}
	return count > 0, nil
}

// Create inserts a new image row. Unique violations are returned untouched so callers can
// classify them with database.IsUniqueViolation.
func (r *ImageRepository) Create(image *models.Image) error {
	return r.DB.Create(image).Error
}

// PathIndexed reports whether a row (stale or not) already owns relPath.
func (r *ImageRepository) PathIndexed(relPath string) (bool, error) {
	var count int64
	err := r.DB.Model(&models.Image{}).Where("rel_path = ?", relPath).Limit(1).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check path %s: %w", relPath, err)
	}
	return count > 0, nil
}

// GetByPath retrieves an image by its relative path
func (r *ImageRepository) GetByPath(relPath string) (*models.Image, error) {
	var image models.Image
	err := r.DB.Where("rel_path = ?", relPath).First(&image).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get image by path %s: %w", relPath, err)
	}
	return &image, nil
}

// ListByFolder returns the images directly inside folder in the given order (natural file
// name order when order is unknown). Date orders use the capture time, falling back to mtime.
func (r *ImageRepository) ListByFolder(folder, order string) ([]models.Image, error) {
	if !database.IsValidSortOrder(order) {
		order = database.DefaultSortOrder
	}
	q := r.DB.Where("folder_path = ?", folder)
	switch order {
	case database.SortFilenameAsc:
		q = q.Order("filename ASC")
	case database.SortDateDesc:
		q = q.Order("COALESCE(taken_at, mod_time) DESC").Order("rel_path ASC")
	case database.SortDateAsc:
		q = q.Order("COALESCE(taken_at, mod_time) ASC").Order("rel_path ASC")
	}

	var images []models.Image
	if err := q.Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list images in folder '%s': %w", folder, err)
	}
	if order == database.SortFilenameNat {
		sort.SliceStable(images, func(i, j int) bool {
			return utils.NaturalLess(images[i].Filename, images[j].Filename)
		})
	}
	return images, nil
}

// IndexedFile is the slice of an image row reindex needs.
type IndexedFile struct {
	RelPath    string
	Stale      bool
	StoredHash string
	RawHash    *string
}

// ListIndexed returns every indexed path with its stale flag and fingerprints.
func (r *ImageRepository) ListIndexed() ([]IndexedFile, error) {
	var rows []IndexedFile
	if err := r.DB.Model(&models.Image{}).Select("rel_path", "stale", "stored_hash", "raw_hash").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list indexed images: %w", err)
	}
	return rows, nil
}

// SetStale flags or unflags the given paths.
func (r *ImageRepository) SetStale(paths []string, stale bool) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	res := r.DB.Model(&models.Image{}).Where("rel_path IN ?", paths).Update("stale", stale)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update stale flag: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes an image record by its relative path
func (r *ImageRepository) Delete(relPath string) error {
	result := r.DB.Where("rel_path = ?", relPath).Delete(&models.Image{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete image record for %s: %w", relPath, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func claimable(db *gorm.DB, cutoff int64) *gorm.DB {
	return db.Where("stale = ?", false).
		Where("(detection_status = ? OR (detection_status = ? AND claimed_at < ?))",
			database.StatusPending, database.StatusProcessing, cutoff)
}

// ClaimNext atomically moves the oldest pending image (or one whose processing lease ran out)
// to 'processing'. The update is a compare-and-swap on the status, so two callers never both
// win the same row. It returns nil, nil when nothing is claimable.
func (r *ImageRepository) ClaimNext(now time.Time, lease time.Duration) (*models.Image, error) {
	cutoff := now.Add(-lease).Unix()
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var candidate models.Image
		err := claimable(r.DB.Model(&models.Image{}), cutoff).
			Select("rel_path").
			Order("created_at ASC, rel_path ASC").
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find pending image: %w", err)
		}

		res := claimable(r.DB.Model(&models.Image{}).Where("rel_path = ?", candidate.RelPath), cutoff).
			Updates(map[string]interface{}{
				"detection_status": database.StatusProcessing,
				"claimed_at":       now.Unix(),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim %s: %w", candidate.RelPath, res.Error)
		}
		if res.RowsAffected == 1 {
			return r.GetByPath(candidate.RelPath)
		}
	}
	return nil, ErrClaimContention
}

// DetectionOutcome is the verdict persisted for a successful detection run.
type DetectionOutcome struct {
	Result      string
	SafeScore   float64
	UnsafeScore float64
	At          time.Time
}

func ownedClaim(db *gorm.DB, relPath string, claimedAt int64) *gorm.DB {
	return db.Model(&models.Image{}).
		Where("rel_path = ? AND detection_status = ? AND claimed_at = ?", relPath, database.StatusProcessing, claimedAt)
}

// CompleteDetection records a verdict, but only while the caller still owns the claim.
func (r *ImageRepository) CompleteDetection(relPath string, claimedAt int64, outcome DetectionOutcome) (bool, error) {
	processedAt := outcome.At.Unix()
	res := ownedClaim(r.DB, relPath, claimedAt).Updates(map[string]interface{}{
		"classification_status":  database.StatusOK,
		"result":                 outcome.Result,
		"safe_score":             outcome.SafeScore,
		"unsafe_score":           outcome.UnsafeScore,
		"classification_error":   gorm.Expr("NULL"),
		"detection_status":       database.StatusOK,
		"detection_error":        gorm.Expr("NULL"),
		"detection_processed_at": processedAt,
		"claimed_at":             gorm.Expr("NULL"),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to record detection result for %s: %w", relPath, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailDetection records an error on both tracks, again only for the claim owner.
func (r *ImageRepository) FailDetection(relPath string, claimedAt int64, message string, now time.Time) (bool, error) {
	processedAt := now.Unix()
	res := ownedClaim(r.DB, relPath, claimedAt).Updates(map[string]interface{}{
		"classification_status":  database.StatusError,
		"classification_error":   message,
		"detection_status":       database.StatusError,
		"detection_error":        message,
		"detection_processed_at": processedAt,
		"claimed_at":             gorm.Expr("NULL"),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to record detection failure for %s: %w", relPath, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ResetAll puts every image back to pending on both tracks and clears verdicts.
func (r *ImageRepository) ResetAll() (int64, error) {
	res := r.DB.Model(&models.Image{}).Where("1 = 1").Updates(map[string]interface{}{
		"classification_status":  database.StatusPending,
		"safe_score":             gorm.Expr("NULL"),
		"unsafe_score":           gorm.Expr("NULL"),
		"result":                 gorm.Expr("NULL"),
		"classification_error":   gorm.Expr("NULL"),
		"detection_required":     true,
		"detection_status":       database.StatusPending,
		"detection_error":        gorm.Expr("NULL"),
		"detection_processed_at": gorm.Expr("NULL"),
		"claimed_at":             gorm.Expr("NULL"),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset classification state: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats summarizes progress for one workspace.
type Stats struct {
	Total       int64   `json:"total"`
	Pending     int64   `json:"pending"`
	Processing  int64   `json:"processing"`
	Processed   int64   `json:"processed"`
	OK          int64   `json:"ok"`
	Errors      int64   `json:"errors"`
	Safe        int64   `json:"safe"`
	Unsafe      int64   `json:"unsafe"`
	Stale       int64   `json:"stale"`
	UnsafeRatio float64 `json:"unsafe_ratio"`
}

func countWhen(cond string, alias string) string {
	return fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS %s", cond, alias)
}

func (r *ImageRepository) Stats() (*Stats, error) {
	sqlStr, args, err := database.Builder.Select(
		"COUNT(*) AS total",
		countWhen("detection_status = 'pending'", "pending"),
		countWhen("detection_status = 'processing'", "processing"),
		countWhen("detection_status = 'ok'", "ok"),
		countWhen("detection_status = 'error'", "errors"),
		countWhen("result = 'safe'", "safe"),
		countWhen("result = 'unsafe'", "unsafe"),
		countWhen("stale", "stale"),
	).From("images").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for Stats: %w", err)
	}

	var s Stats
	if err := r.DB.Raw(sqlStr, args...).Scan(&s).Error; err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	s.Processed = s.OK + s.Errors
	if classified := s.Safe + s.Unsafe; classified > 0 {
		s.UnsafeRatio = float64(s.Unsafe) / float64(classified)
	}
	return &s, nil
}

// NearDuplicate is an image whose perceptual hash is close to another's.
type NearDuplicate struct {
	RelPath  string `json:"rel_path"`
	Distance int    `json:"distance"`
}

// NearDuplicates lists images within maxDistance bits of relPath's perceptual hash. It is
// informational; dedupe decisions only ever use exact fingerprints.
func (r *ImageRepository) NearDuplicates(relPath string, maxDistance int) ([]NearDuplicate, error) {
	source, err := r.GetByPath(relPath)
	if err != nil {
		return nil, err
	}
	if source.PerceptualHash == nil {
		return []NearDuplicate{}, nil
	}

	var rows []struct {
		RelPath        string
		PerceptualHash int64
	}
	err = r.DB.Model(&models.Image{}).
		Select("rel_path", "perceptual_hash").
		Where("perceptual_hash IS NOT NULL AND rel_path <> ?", relPath).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load perceptual hashes: %w", err)
	}

	out := []NearDuplicate{}
	for _, row := range rows {
		if d := media.HashDistance(*source.PerceptualHash, row.PerceptualHash); d <= maxDistance {
			out = append(out, NearDuplicate{RelPath: row.RelPath, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].RelPath < out[j].RelPath
	})
	return out, nil
}
