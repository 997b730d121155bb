package repository

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/utils"
)

const (
	defaultFolderPageSize = 50
	maxFolderPageSize     = 500

	// RootFolderName is shown for images that sit directly in the images root.
	RootFolderName = "/"
)

// FolderQuery filters and pages the folder listing.
type FolderQuery struct {
	Search  string
	Tag     string
	Page    int
	PerPage int
}

func (q FolderQuery) normalized() FolderQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultFolderPageSize
	}
	if q.PerPage > maxFolderPageSize {
		q.PerPage = maxFolderPageSize
	}
	q.Search = utils.SearchKey(q.Search)
	q.Tag = strings.TrimSpace(q.Tag)
	return q
}

// FolderName is the display name of a folder path.
func FolderName(folderPath string) string {
	if folderPath == "" {
		return RootFolderName
	}
	return path.Base(folderPath)
}

// FolderRepository maintains the per-folder rollups (counts, tag histogram, avatar).
type FolderRepository struct {
	DB *gorm.DB
}

func NewFolderRepository(db *gorm.DB) *FolderRepository {
	return &FolderRepository{DB: db}
}

func (r *FolderRepository) WithTx(tx *gorm.DB) *FolderRepository {
	return &FolderRepository{DB: tx}
}

// Get returns a folder with its tag histogram, or gorm.ErrRecordNotFound.
func (r *FolderRepository) Get(folderPath string) (*models.Folder, error) {
	var folder models.Folder
	if err := r.DB.Where("path = ?", folderPath).First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get folder '%s': %w", folderPath, err)
	}
	folders := []models.Folder{folder}
	if err := r.loadTags(folders); err != nil {
		return nil, err
	}
	return &folders[0], nil
}

func (r *FolderRepository) filtered(q FolderQuery) sq.SelectBuilder {
	b := database.Builder.Select().From("folders f")
	if q.Search != "" {
		b = b.Where(sq.Like{"f.search_key": "%" + q.Search + "%"})
	}
	if q.Tag != "" {
		b = b.Join("folder_tags t ON t.folder_path = f.path").
			Where(sq.And{sq.Eq{"t.label": q.Tag}, sq.Gt{"t.image_count": 0}})
	}
	return b
}

// List pages through folders matching the query, ordered by name. It also returns the total
// number of matches.
func (r *FolderRepository) List(q FolderQuery) ([]models.Folder, int64, error) {
	q = q.normalized()

	countSQL, countArgs, err := r.filtered(q).Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build SQL count query for folders: %w", err)
	}
	var total int64
	if err := r.DB.Raw(countSQL, countArgs...).Scan(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count folders: %w", err)
	}
	if total == 0 {
		return []models.Folder{}, 0, nil
	}

	listSQL, listArgs, err := r.filtered(q).
		Columns("f.*").
		OrderBy("f.search_key ASC", "f.path ASC").
		Limit(uint64(q.PerPage)).
		Offset(uint64((q.Page - 1) * q.PerPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build SQL query for folders: %w", err)
	}
	var folders []models.Folder
	if err := r.DB.Raw(listSQL, listArgs...).Scan(&folders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list folders: %w", err)
	}
	if err := r.loadTags(folders); err != nil {
		return nil, 0, err
	}
	return folders, total, nil
}

func (r *FolderRepository) loadTags(folders []models.Folder) error {
	if len(folders) == 0 {
		return nil
	}
	paths := make([]string, len(folders))
	for i := range folders {
		paths[i] = folders[i].Path
		folders[i].Tags = map[string]int64{}
	}

	var tags []models.FolderTag
	if err := r.DB.Where("folder_path IN ? AND image_count > 0", paths).Find(&tags).Error; err != nil {
		return fmt.Errorf("failed to load folder tags: %w", err)
	}
	index := make(map[string]int, len(folders))
	for i := range folders {
		index[folders[i].Path] = i
	}
	for _, t := range tags {
		if i, ok := index[t.FolderPath]; ok {
			folders[i].Tags[t.Label] = t.ImageCount
		}
	}
	return nil
}

func clampedAdd(column string) string {
	return fmt.Sprintf("CASE WHEN %[1]s + ? < 0 THEN 0 ELSE %[1]s + ? END", column)
}

// AdjustCounts applies deltas to a folder's totals, creating the row on first use and
// dropping it once it holds no images. Counts never go below zero.
func (r *FolderRepository) AdjustCounts(folderPath string, totalDelta, pendingDelta int64) error {
	if totalDelta == 0 && pendingDelta == 0 {
		return nil
	}
	now := time.Now().Unix()

	if totalDelta > 0 {
		initialPending := pendingDelta
		if initialPending < 0 {
			initialPending = 0
		}
		sqlStr, args, err := database.Builder.
			Insert("folders").
			Columns("path", "name", "search_key", "total_images", "pending_images", "updated_at").
			Values(folderPath, FolderName(folderPath), utils.SearchKey(FolderName(folderPath)), totalDelta, initialPending, now).
			Suffix("ON CONFLICT (path) DO UPDATE SET total_images = folders.total_images + ?, pending_images = "+
				clampedAdd("folders.pending_images")+", updated_at = ?",
				totalDelta, pendingDelta, pendingDelta, now).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build SQL upsert for folder '%s': %w", folderPath, err)
		}
		if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
			return fmt.Errorf("failed to adjust folder '%s': %w", folderPath, err)
		}
		return nil
	}

	sqlStr, args, err := database.Builder.
		Update("folders").
		Set("total_images", sq.Expr(clampedAdd("total_images"), totalDelta, totalDelta)).
		Set("pending_images", sq.Expr(clampedAdd("pending_images"), pendingDelta, pendingDelta)).
		Set("updated_at", now).
		Where(sq.Eq{"path": folderPath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL update for folder '%s': %w", folderPath, err)
	}
	if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
		return fmt.Errorf("failed to adjust folder '%s': %w", folderPath, err)
	}

	if totalDelta < 0 {
		return r.dropIfEmpty(folderPath)
	}
	return nil
}

func (r *FolderRepository) dropIfEmpty(folderPath string) error {
	res := r.DB.Where("path = ? AND total_images <= 0", folderPath).Delete(&models.Folder{})
	if res.Error != nil {
		return fmt.Errorf("failed to drop empty folder '%s': %w", folderPath, res.Error)
	}
	if res.RowsAffected > 0 {
		if err := r.DB.Where("folder_path = ?", folderPath).Delete(&models.FolderTag{}).Error; err != nil {
			return fmt.Errorf("failed to drop tags of folder '%s': %w", folderPath, err)
		}
	}
	return nil
}

// AdjustTag moves one bucket of the tag histogram; empty buckets are removed.
func (r *FolderRepository) AdjustTag(folderPath, label string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		sqlStr, args, err := database.Builder.
			Insert("folder_tags").
			Columns("folder_path", "label", "image_count").
			Values(folderPath, label, delta).
			Suffix("ON CONFLICT (folder_path, label) DO UPDATE SET image_count = folder_tags.image_count + excluded.image_count").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build SQL upsert for tag %s: %w", label, err)
		}
		if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
			return fmt.Errorf("failed to adjust tag %s of '%s': %w", label, folderPath, err)
		}
		return nil
	}

	err := r.DB.Model(&models.FolderTag{}).
		Where("folder_path = ? AND label = ?", folderPath, label).
		Update("image_count", gorm.Expr("image_count + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("failed to adjust tag %s of '%s': %w", label, folderPath, err)
	}
	err = r.DB.Where("folder_path = ? AND label = ? AND image_count <= 0", folderPath, label).
		Delete(&models.FolderTag{}).Error
	if err != nil {
		return fmt.Errorf("failed to drop tag %s of '%s': %w", label, folderPath, err)
	}
	return nil
}

// SetAvatar records which detection the folder avatar was cut from and where it lives.
// Passing nils clears it.
func (r *FolderRepository) SetAvatar(folderPath string, key, avatarPath *string) error {
	err := r.DB.Model(&models.Folder{}).
		Where("path = ?", folderPath).
		Updates(map[string]interface{}{
			"avatar_key":  key,
			"avatar_path": avatarPath,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set avatar of '%s': %w", folderPath, err)
	}
	return nil
}

// ClearAvatars forgets every folder avatar and returns the files they pointed at.
func (r *FolderRepository) ClearAvatars() ([]string, error) {
	var paths []string
	err := r.DB.Model(&models.Folder{}).
		Where("avatar_path IS NOT NULL").
		Pluck("avatar_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list folder avatars: %w", err)
	}
	err = r.DB.Model(&models.Folder{}).
		Where("avatar_path IS NOT NULL OR avatar_key IS NOT NULL").
		Updates(map[string]interface{}{"avatar_key": gorm.Expr("NULL"), "avatar_path": gorm.Expr("NULL")}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to clear folder avatars: %w", err)
	}
	return paths, nil
}

type folderCounts struct {
	FolderPath string
	Total      int64
	Pending    int64
}

// Rebuild recomputes every rollup from the images and detections tables. Avatar fields of
// folders that survive are kept. Run it in a transaction.
func (r *FolderRepository) Rebuild() error {
	countSQL, countArgs, err := database.Builder.
		Select(
			"folder_path",
			"COUNT(*) AS total",
			countWhen("detection_status IN ('pending', 'processing')", "pending"),
		).
		From("images").
		GroupBy("folder_path").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for folder counts: %w", err)
	}
	var counts []folderCounts
	if err := r.DB.Raw(countSQL, countArgs...).Scan(&counts).Error; err != nil {
		return fmt.Errorf("failed to compute folder counts: %w", err)
	}

	var existing []models.Folder
	if err := r.DB.Find(&existing).Error; err != nil {
		return fmt.Errorf("failed to load folders: %w", err)
	}
	avatars := make(map[string]models.Folder, len(existing))
	for _, f := range existing {
		avatars[f.Path] = f
	}

	if err := r.DB.Where("1 = 1").Delete(&models.FolderTag{}).Error; err != nil {
		return fmt.Errorf("failed to clear folder tags: %w", err)
	}
	if err := r.DB.Where("1 = 1").Delete(&models.Folder{}).Error; err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}

	now := time.Now().Unix()
	folders := make([]models.Folder, 0, len(counts))
	for _, c := range counts {
		name := FolderName(c.FolderPath)
		f := models.Folder{
			Path:          c.FolderPath,
			Name:          name,
			SearchKey:     utils.SearchKey(name),
			TotalImages:   c.Total,
			PendingImages: c.Pending,
			UpdatedAt:     now,
		}
		if prev, ok := avatars[c.FolderPath]; ok {
			f.AvatarKey = prev.AvatarKey
			f.AvatarPath = prev.AvatarPath
		}
		folders = append(folders, f)
	}
	if len(folders) > 0 {
		if err := r.DB.CreateInBatches(&folders, 200).Error; err != nil {
			return fmt.Errorf("failed to write folders: %w", err)
		}
	}

	tagSQL, tagArgs, err := database.Builder.
		Select("i.folder_path", "d.label", "COUNT(DISTINCT d.image_path) AS image_count").
		From("detections d").
		Join("images i ON i.rel_path = d.image_path").
		GroupBy("i.folder_path", "d.label").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for folder tags: %w", err)
	}
	var tags []models.FolderTag
	if err := r.DB.Raw(tagSQL, tagArgs...).Scan(&tags).Error; err != nil {
		return fmt.Errorf("failed to compute folder tags: %w", err)
	}
	if len(tags) > 0 {
		if err := r.DB.CreateInBatches(&tags, 200).Error; err != nil {
			return fmt.Errorf("failed to write folder tags: %w", err)
		}
	}
	return nil
}
