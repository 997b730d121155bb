// Package aggregate keeps the per-folder rollups (counts, tag histogram, avatar) in step with
// the images and detections tables.
package aggregate

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
)

// AvatarLabels are the labels a folder avatar may be cut from, best first.
var AvatarLabels = []string{
	"FACE_FEMALE",
	"FACE_MALE",
	"FEMALE_BREAST_EXPOSED",
	"FEMALE_BREAST_COVERED",
	"MALE_BREAST_EXPOSED",
	"BELLY_EXPOSED",
	"BELLY_COVERED",
}

// Maintainer applies incremental rollup changes. The tx-taking methods must run inside the
// transaction that made the underlying change.
type Maintainer struct {
	Cache *media.Cache
	Log   *log.Logger
}

func NewMaintainer(cache *media.Cache, logger *log.Logger) *Maintainer {
	if logger == nil {
		logger = log.Default()
	}
	return &Maintainer{Cache: cache, Log: logger}
}

// IsPending reports whether a detection status still counts toward a folder's pending total.
func IsPending(status string) bool {
	return status == database.StatusPending || status == database.StatusProcessing
}

// ImageAdded accounts for a freshly inserted image.
func (m *Maintainer) ImageAdded(tx *gorm.DB, img *models.Image) error {
	var pending int64
	if IsPending(img.DetectionStatus) {
		pending = 1
	}
	return repository.NewFolderRepository(tx).AdjustCounts(img.FolderPath, 1, pending)
}

// ImageRemoved accounts for a deleted image and the distinct labels it carried.
func (m *Maintainer) ImageRemoved(tx *gorm.DB, img *models.Image, labels []string) error {
	folders := repository.NewFolderRepository(tx)
	for _, label := range uniqueLabels(labels) {
		if err := folders.AdjustTag(img.FolderPath, label, -1); err != nil {
			return err
		}
	}
	var pending int64
	if IsPending(img.DetectionStatus) {
		pending = -1
	}
	return folders.AdjustCounts(img.FolderPath, -1, pending)
}

// DetectionsReplaced moves the histogram from an image's old label set to its new one and
// applies pendingDelta to the folder's pending count.
func (m *Maintainer) DetectionsReplaced(tx *gorm.DB, folder string, before, after []string, pendingDelta int64) error {
	folders := repository.NewFolderRepository(tx)
	removed, added := diffLabels(before, after)
	for _, label := range removed {
		if err := folders.AdjustTag(folder, label, -1); err != nil {
			return err
		}
	}
	for _, label := range added {
		if err := folders.AdjustTag(folder, label, 1); err != nil {
			return err
		}
	}
	return folders.AdjustCounts(folder, 0, pendingDelta)
}

// Rebuild recomputes every folder row in one pass.
func (m *Maintainer) Rebuild(tx *gorm.DB) error {
	if err := repository.NewFolderRepository(tx).Rebuild(); err != nil {
		return fmt.Errorf("failed to rebuild folder rollups: %w", err)
	}
	return nil
}

func uniqueLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func diffLabels(before, after []string) (removed, added []string) {
	was := make(map[string]bool)
	for _, l := range uniqueLabels(before) {
		was[l] = true
	}
	is := make(map[string]bool)
	for _, l := range uniqueLabels(after) {
		is[l] = true
		if !was[l] {
			added = append(added, l)
		}
	}
	for _, l := range uniqueLabels(before) {
		if !is[l] {
			removed = append(removed, l)
		}
	}
	return removed, added
}

func labelPriority(label string) int {
	for i, l := range AvatarLabels {
		if l == label {
			return i
		}
	}
	return len(AvatarLabels)
}

func candidateBox(c repository.AvatarCandidate) media.Box {
	return media.Box{X1: c.X1, Y1: c.Y1, X2: c.X2, Y2: c.Y2}
}

// BestAvatarCandidate picks by label priority, then score, then box area.
func BestAvatarCandidate(candidates []repository.AvatarCandidate) (repository.AvatarCandidate, bool) {
	var (
		best  repository.AvatarCandidate
		found bool
	)
	for _, c := range candidates {
		if candidateBox(c).Area() <= 0 {
			continue
		}
		if !found || better(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

func better(a, b repository.AvatarCandidate) bool {
	if pa, pb := labelPriority(a.Label), labelPriority(b.Label); pa != pb {
		return pa < pb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if aa, ab := candidateBox(a).Area(), candidateBox(b).Area(); aa != ab {
		return aa > ab
	}
	return a.ImagePath < b.ImagePath
}

// AvatarSignature identifies the detection an avatar was cut from.
func AvatarSignature(c repository.AvatarCandidate) string {
	return fmt.Sprintf("%s|%.4f|%s", c.ImagePath, c.Score, c.Label)
}

// RefreshAvatar makes sure the folder's cached avatar matches its current best detection,
// rendering a new crop only when that detection changed. It returns the avatar file, or ""
// when the folder has no qualifying detection.
func (m *Maintainer) RefreshAvatar(db *gorm.DB, folder string) (string, error) {
	folders := repository.NewFolderRepository(db)
	row, err := folders.Get(folder)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}

	candidates, err := repository.NewDetectionRepository(db).AvatarCandidates(folder, AvatarLabels)
	if err != nil {
		return "", err
	}
	best, ok := BestAvatarCandidate(candidates)
	if !ok {
		if row.AvatarPath != nil {
			os.Remove(*row.AvatarPath)
			if err := folders.SetAvatar(folder, nil, nil); err != nil {
				return "", err
			}
		}
		return "", nil
	}

	signature := AvatarSignature(best)
	target := m.Cache.AvatarTarget(folder)
	if row.AvatarKey != nil && *row.AvatarKey == signature && row.AvatarPath != nil {
		if _, err := os.Stat(*row.AvatarPath); err == nil {
			return *row.AvatarPath, nil
		}
	}

	if err := m.Cache.RenderAvatar(best.AbsPath, candidateBox(best), target); err != nil {
		return "", fmt.Errorf("failed to render avatar for '%s': %w", folder, err)
	}
	if err := folders.SetAvatar(folder, &signature, &target); err != nil {
		return "", err
	}
	m.Log.Printf("aggregate: avatar for '%s' cut from %s (%s %.2f)", folder, best.ImagePath, best.Label, best.Score)
	return target, nil
}
