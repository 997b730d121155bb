package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
)

// ErrImageNotFound is returned when a relative path has no index row.
var ErrImageNotFound = errors.New("image not found")

// ReindexReport describes one filesystem to index reconciliation.
type ReindexReport struct {
	Scanned  int      `json:"scanned"`
	Stale    int      `json:"stale"`
	Restored int      `json:"restored"`
	Moved    int      `json:"moved"`
	Adopted  *Summary `json:"adopted"`
}

// Reindex reconciles the image root with the index: untracked image files are adopted through
// the dedupe path, rows whose file vanished are flagged stale (and unflagged when it comes
// back), and every folder rollup is rebuilt. An untracked file carrying the fingerprint of a
// vanished row was moved: the old row is dropped and the file is indexed at its new path.
func (p *Pipeline) Reindex(ctx context.Context) (*ReindexReport, error) {
	images := p.images(p.WS.DB)
	indexed, err := images.ListIndexed()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(indexed))
	for _, f := range indexed {
		known[f.RelPath] = f.Stale
	}

	report := &ReindexReport{}
	seen := make(map[string]bool, len(indexed))
	var (
		restored  []string
		untracked []item
	)
	err = p.WS.Store.Walk(func(rel string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Scanned++
		if stale, ok := known[rel]; ok {
			seen[rel] = true
			if stale {
				restored = append(restored, rel)
			}
			return nil
		}
		if !media.IsImageFile(rel) {
			return nil
		}
		abs, err := p.WS.Store.GetFullPath(rel)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			p.WS.Log.Printf("reindex: cannot read %s: %v", rel, err)
			return nil
		}
		untracked = append(untracked, item{
			source: rel,
			raw:    raw,
			name:   info.Name(),
			adopt:  rel,
			target: func(ext string) string { return media.ReplaceExt(rel, ext) },
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk image root: %w", err)
	}

	gone := make(map[string]string)
	for _, f := range indexed {
		if seen[f.RelPath] {
			continue
		}
		gone[f.StoredHash] = f.RelPath
		if f.RawHash != nil {
			gone[*f.RawHash] = f.RelPath
		}
	}
	moved := make(map[string]bool)
	for _, it := range untracked {
		if old, ok := gone[media.Hash(it.raw)]; ok {
			moved[old] = true
		}
	}
	if err := p.dropMoved(moved); err != nil {
		return nil, err
	}
	report.Moved = len(moved)

	var missing []string
	for _, f := range indexed {
		if !seen[f.RelPath] && !f.Stale && !moved[f.RelPath] {
			missing = append(missing, f.RelPath)
		}
	}
	n, err := images.SetStale(missing, true)
	if err != nil {
		return nil, err
	}
	report.Stale = int(n)
	n, err = images.SetStale(restored, false)
	if err != nil {
		return nil, err
	}
	report.Restored = int(n)

	adopted, err := p.run(ctx, untracked)
	if err != nil {
		return nil, err
	}
	report.Adopted = adopted

	if err := p.WS.DB.Transaction(func(tx *gorm.DB) error {
		return p.Aggregates.Rebuild(tx)
	}); err != nil {
		return nil, err
	}

	p.WS.Log.Printf("reindex: scanned=%d adopted=%d moved=%d stale=%d restored=%d",
		report.Scanned, adopted.Stored, report.Moved, report.Stale, report.Restored)
	return report, nil
}

// dropMoved deletes the rows (and detections) of files that reappeared under another path.
func (p *Pipeline) dropMoved(moved map[string]bool) error {
	if len(moved) == 0 {
		return nil
	}
	return p.WS.DB.Transaction(func(tx *gorm.DB) error {
		detections := repository.NewDetectionRepository(tx)
		images := repository.NewImageRepository(tx)
		for rel := range moved {
			if err := detections.DeleteByImage(rel); err != nil {
				return err
			}
			if err := images.Delete(rel); err != nil {
				return err
			}
			p.WS.Log.Printf("reindex: %s moved, old row dropped", rel)
		}
		return nil
	})
}

// DeleteImage removes an image's row, detections and file, and takes it out of the rollups.
func (p *Pipeline) DeleteImage(ctx context.Context, relPath string) error {
	img, err := p.images(p.WS.DB).GetByPath(relPath)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrImageNotFound, relPath)
		}
		return err
	}

	err = p.WS.DB.Transaction(func(tx *gorm.DB) error {
		detections := repository.NewDetectionRepository(tx)
		labels, err := detections.DistinctLabels(relPath)
		if err != nil {
			return err
		}
		if err := detections.DeleteByImage(relPath); err != nil {
			return err
		}
		if err := repository.NewImageRepository(tx).Delete(relPath); err != nil {
			return err
		}
		return p.Aggregates.ImageRemoved(tx, img, labels)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", relPath, err)
	}

	if err := p.WS.Store.Delete(relPath); err != nil {
		p.WS.Log.Printf("ingest: row for %s removed but file delete failed: %v", relPath, err)
	}
	if _, err := p.Aggregates.RefreshAvatar(p.WS.DB, img.FolderPath); err != nil {
		p.WS.Log.Printf("ingest: avatar refresh for '%s' failed: %v", img.FolderPath, err)
	}
	p.WS.Log.Printf("ingest: deleted %s", relPath)
	return nil
}
