// Package ingest turns row payloads and uploads into deduplicated files plus index rows.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/aggregate"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

// Converter turns HEIC/HEIF bytes into JPEG bytes.
type Converter interface {
	ToJPEG(ctx context.Context, src []byte) ([]byte, error)
}

// Warmer is told about every stored file so thumbnails can be rendered ahead of time.
type Warmer interface {
	Warm(cache *media.Cache, absPath string) bool
}

// insert retries after a path clash the collision check could not see
const maxPathRetries = 3

// Pipeline ingests payloads into one workspace.
type Pipeline struct {
	WS         *workspace.Workspace
	Converter  Converter
	Compressor *media.Compressor
	Aggregates *aggregate.Maintainer
	Warmer     Warmer
	Now        func() time.Time
}

func NewPipeline(ws *workspace.Workspace, converter Converter, compressor *media.Compressor, warmer Warmer) *Pipeline {
	return &Pipeline{
		WS:         ws,
		Converter:  converter,
		Compressor: compressor,
		Aggregates: aggregate.NewMaintainer(ws.Cache, ws.Log),
		Warmer:     warmer,
		Now:        time.Now,
	}
}

// item is one payload on its way through the pipeline.
type item struct {
	source string
	raw    []byte
	name   string // sniffing hint only
	target func(ext string) string

	// adopt is set for files already on disk under the image root (reindex)
	adopt string

	rejected *Result
}

func (p *Pipeline) images(db *gorm.DB) *repository.ImageRepository {
	return repository.NewImageRepository(db)
}

func failed(source string, reason Reason, err error) Result {
	r := Result{Source: source, Outcome: Failed, Reason: reason}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// run preloads the dedupe index for the whole batch with one lookup, then ingests items in
// order. Per-item failures land in the summary; only index lookups failing for the whole batch
// and cancellation are returned as errors.
func (p *Pipeline) run(ctx context.Context, items []item) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString(), Results: []Result{}}

	hashes := make([]string, 0, len(items))
	for _, it := range items {
		if it.rejected == nil && len(it.raw) > 0 {
			hashes = append(hashes, media.Hash(it.raw))
		}
	}
	existing, err := p.images(p.WS.DB).BatchExists(hashes)
	if err != nil {
		return nil, fmt.Errorf("dedupe preload failed: %w", err)
	}
	sess := newSession(existing)

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if it.rejected != nil {
			summary.add(*it.rejected)
			continue
		}
		res := p.ingestOne(ctx, sess, it)
		switch res.Outcome {
		case Failed:
			p.WS.Log.Printf("ingest: %s failed (%s): %s", res.Source, res.Reason, res.Detail)
		case DuplicateRaw, DuplicateStored:
			p.WS.Log.Printf("ingest: %s duplicate (%s)", res.Source, res.Outcome)
		}
		summary.add(res)
	}

	p.WS.Log.Printf("ingest: run %s stored=%d duplicate_raw=%d duplicate_stored=%d failed=%d",
		summary.RunID, summary.Stored, summary.DuplicateRaw, summary.DuplicateStored, summary.Failed)
	return summary, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, sess *session, it item) Result {
	if len(bytes.TrimSpace(it.raw)) == 0 {
		return failed(it.source, ReasonEmptyField, media.ErrEmptyPayload)
	}

	dec, err := media.Decode(it.raw, it.name)
	if err != nil {
		if errors.Is(err, media.ErrEmptyPayload) {
			return failed(it.source, ReasonEmptyField, err)
		}
		return failed(it.source, ReasonDecode, err)
	}

	rawHash := media.Hash(it.raw)
	if sess.has(rawHash) {
		return Result{Source: it.source, Outcome: DuplicateRaw, RawHash: rawHash}
	}

	data, mime, ext := dec.Bytes, dec.MIME, dec.Ext
	if dec.NeedsConversion {
		if p.Converter == nil {
			return failed(it.source, ReasonConversion, fmt.Errorf("%w: no converter configured", media.ErrConversion))
		}
		out, err := p.Converter.ToJPEG(ctx, data)
		if err != nil {
			return failed(it.source, ReasonConversion, err)
		}
		data, mime, ext = out, media.MIMEJPEG, media.ExtensionForMIME(media.MIMEJPEG)
	}

	rel := it.target(ext)
	inPlace := it.adopt != "" && bytes.Equal(data, it.raw)
	if inPlace {
		rel = it.adopt
	}

	if it.adopt == "" {
		if smaller := p.Compressor.Compress(data, mime); smaller != nil {
			data = smaller
		}
	}

	storedHash := media.Hash(data)
	if sess.has(storedHash) {
		sess.mark(rawHash)
		return Result{Source: it.source, Outcome: DuplicateStored, RawHash: rawHash, StoredHash: storedHash}
	}
	exists, err := p.images(p.WS.DB).Exists(storedHash)
	if err != nil {
		return failed(it.source, ReasonIndex, err)
	}
	if exists {
		sess.mark(rawHash, storedHash)
		return Result{Source: it.source, Outcome: DuplicateStored, RawHash: rawHash, StoredHash: storedHash}
	}

	var (
		finalRel = rel
		img      *models.Image
	)
	for attempt := 0; ; attempt++ {
		if !inPlace {
			finalRel, err = p.WS.Store.WriteAtomic(media.ResolveCollisionFunc(rel, p.pathTaken), data)
			if err != nil {
				if errors.Is(err, media.ErrPathTraversal) {
					return failed(it.source, ReasonInvalidPath, err)
				}
				return failed(it.source, ReasonWrite, err)
			}
		}

		img, err = p.newImage(finalRel, data, rawHash, storedHash)
		if err == nil {
			err = p.WS.DB.Transaction(func(tx *gorm.DB) error {
				if err := p.images(tx).Create(img); err != nil {
					return err
				}
				return p.Aggregates.ImageAdded(tx, img)
			})
		}
		if err == nil {
			break
		}
		if !inPlace {
			p.WS.Store.Delete(finalRel)
		}
		if !database.IsUniqueViolation(err) {
			return failed(it.source, ReasonIndex, err)
		}

		// a hash constraint means someone else stored these bytes; otherwise the path was taken
		recorded, lookupErr := p.hashRecorded(rawHash, storedHash)
		if lookupErr != nil {
			return failed(it.source, ReasonIndex, lookupErr)
		}
		if recorded {
			sess.mark(rawHash, storedHash)
			return Result{Source: it.source, Outcome: DuplicateStored, RawHash: rawHash, StoredHash: storedHash}
		}
		if inPlace || attempt >= maxPathRetries {
			return failed(it.source, ReasonIndex, err)
		}
		p.WS.Log.Printf("ingest: %s is already indexed, trying the next name", finalRel)
	}
	sess.mark(rawHash, storedHash)

	if it.adopt != "" && !inPlace {
		// the converted copy replaces the adopted original
		p.WS.Store.Delete(it.adopt)
	}
	if p.Warmer != nil {
		p.Warmer.Warm(p.WS.Cache, img.AbsPath)
	}
	return Result{Source: it.source, Outcome: Stored, RelPath: finalRel, RawHash: rawHash, StoredHash: storedHash}
}

// pathTaken treats a path as occupied when a file is on disk or a row (stale rows included)
// already owns it.
func (p *Pipeline) pathTaken(rel string) bool {
	if p.WS.Store.Exists(rel) {
		return true
	}
	indexed, err := p.images(p.WS.DB).PathIndexed(rel)
	if err != nil {
		p.WS.Log.Printf("ingest: path lookup for %s failed: %v", rel, err)
		return false
	}
	return indexed
}

func (p *Pipeline) hashRecorded(hashes ...string) (bool, error) {
	images := p.images(p.WS.DB)
	for _, h := range hashes {
		found, err := images.Exists(h)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

func (p *Pipeline) newImage(rel string, data []byte, rawHash, storedHash string) (*models.Image, error) {
	abs, err := p.WS.Store.GetFullPath(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat stored file %s: %w", abs, err)
	}

	meta := media.ExtractMetadata(data)
	img := &models.Image{
		RelPath:              rel,
		AbsPath:              abs,
		FolderPath:           media.FolderOf(rel),
		Filename:             path.Base(rel),
		StoredHash:           storedHash,
		PerceptualHash:       meta.PerceptualHash,
		Size:                 info.Size(),
		ModTime:              info.ModTime().Unix(),
		Width:                meta.Width,
		Height:               meta.Height,
		TakenAt:              meta.TakenAt,
		ClassificationStatus: database.StatusPending,
		DetectionRequired:    true,
		DetectionStatus:      database.StatusPending,
	}
	if rawHash != storedHash {
		img.RawHash = &rawHash
	}
	return img, nil
}

// IngestRows materializes the image fields of rows. Naming settings are validated before
// anything is read.
func (p *Pipeline) IngestRows(ctx context.Context, rows []SourceRow) (*Summary, error) {
	settings := p.WS.Settings()
	if err := settings.ValidateNaming(); err != nil {
		return nil, err
	}
	if len(settings.Source.ImageFields) == 0 {
		return nil, fmt.Errorf("%w: source.image_fields", workspace.ErrMissingConfig)
	}

	now := p.Now()
	fields := settings.PatternFields()
	items := make([]item, 0, len(rows)*len(settings.Source.ImageFields))
	for _, row := range rows {
		row := row
		for _, field := range settings.Source.ImageFields {
			payload, _ := row.Row.Payload(field)
			items = append(items, item{
				source: row.label(field),
				raw:    payload,
				target: func(ext string) string {
					return media.Materialize(settings.Naming.Pattern, fields, row.Row.Field, ext, now)
				},
			})
		}
	}
	return p.run(ctx, items)
}

// Upload is one file sent by a client, with the relative path it should keep.
type Upload struct {
	Path string
	Data []byte
}

// IngestUploads stores uploaded files under their sanitized relative paths. Unsafe paths and
// non-image names are rejected before any hashing or write.
func (p *Pipeline) IngestUploads(ctx context.Context, uploads []Upload) (*Summary, error) {
	items := make([]item, 0, len(uploads))
	for _, u := range uploads {
		source := u.Path
		rel, err := media.SanitizeUploadPath(u.Path)
		if err != nil {
			r := failed(source, ReasonInvalidPath, err)
			items = append(items, item{source: source, rejected: &r})
			continue
		}
		if !media.IsImageFile(rel) {
			r := failed(source, ReasonNotImage, fmt.Errorf("%s is not an image file", path.Base(rel)))
			items = append(items, item{source: source, rejected: &r})
			continue
		}
		items = append(items, item{
			source: rel,
			raw:    u.Data,
			name:   path.Base(rel),
			target: func(ext string) string { return media.ReplaceExt(rel, ext) },
		})
	}
	return p.run(ctx, items)
}
