package ingest

import (
	"context"
	"encoding/base64"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

func storedFiles(t *testing.T, p *Pipeline) []string {
	t.Helper()
	var files []string
	require.NoError(t, p.WS.Store.Walk(func(rel string, _ fs.FileInfo) error {
		files = append(files, rel)
		return nil
	}))
	return files
}

func imageCount(t *testing.T, p *Pipeline) int64 {
	t.Helper()
	var n int64
	require.NoError(t, p.WS.DB.Model(&models.Image{}).Count(&n).Error)
	return n
}

func folderTotal(t *testing.T, p *Pipeline, folder string) int64 {
	t.Helper()
	f, err := repository.NewFolderRepository(p.WS.DB).Get(folder)
	require.NoError(t, err)
	return f.TotalImages
}

func scenarioRow(payload string) SourceRow {
	return SourceRow{Table: "fotos", ID: "1", Row: MapRow{
		"id":            int64(1),
		"identificador": "u1",
		"usr_id":        "7",
		"fecha":         "2024-01-15",
		"foto":          payload,
	}}
}

func TestIngestRowMaterializesPattern(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	payload := base64.StdEncoding.EncodeToString(jpegBytes(t, 3, 90))

	summary, err := p.IngestRows(ctx, []SourceRow{scenarioRow(payload)})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.Equal(t, Stored, res.Outcome)
	assert.Equal(t, "u1/7_2024_01_15.jpg", res.RelPath)
	assert.Equal(t, "fotos#1.foto", res.Source)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, []string{"u1/7_2024_01_15.jpg"}, storedFiles(t, p))
	assert.Equal(t, int64(1), imageCount(t, p))
	assert.Equal(t, int64(1), folderTotal(t, p, "u1"))

	img, err := repository.NewImageRepository(p.WS.DB).GetByPath("u1/7_2024_01_15.jpg")
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, img.ClassificationStatus)
	assert.Equal(t, database.StatusPending, img.DetectionStatus)
	assert.True(t, img.DetectionRequired)
	require.NotNil(t, img.RawHash, "the base64 text differs from the stored bytes")
	assert.NotEqual(t, img.StoredHash, *img.RawHash)
	require.NotNil(t, img.Width)
	assert.Equal(t, 64, *img.Width)
	assert.NotNil(t, img.PerceptualHash)

	// the identical row again is a raw duplicate, not an error
	summary, err = p.IngestRows(ctx, []SourceRow{scenarioRow(payload)})
	require.NoError(t, err)
	assert.Equal(t, DuplicateRaw, summary.Results[0].Outcome)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.Skipped())
	assert.Len(t, storedFiles(t, p), 1)
	assert.Equal(t, int64(1), folderTotal(t, p, "u1"))
}

func TestSamePayloadManyTimesStoresOnce(t *testing.T) {
	p := newTestPipeline(t)
	data := jpegBytes(t, 5, 90)

	for i := 0; i < 4; i++ {
		summary, err := p.IngestUploads(context.Background(), []Upload{{Path: "a/pic.jpg", Data: data}})
		require.NoError(t, err)
		want := DuplicateRaw
		if i == 0 {
			want = Stored
		}
		assert.Equal(t, want, summary.Results[0].Outcome, "run %d", i)
	}
	assert.Equal(t, []string{"a/pic.jpg"}, storedFiles(t, p))
	assert.Equal(t, int64(1), imageCount(t, p))
}

func TestDuplicatesWithinOneBatch(t *testing.T) {
	p := newTestPipeline(t)
	data := jpegBytes(t, 9, 90)

	summary, err := p.IngestUploads(context.Background(), []Upload{
		{Path: "x/first.jpg", Data: data},
		{Path: "y/second.jpg", Data: data},
	})
	require.NoError(t, err)
	assert.Equal(t, Stored, summary.Results[0].Outcome)
	assert.Equal(t, DuplicateRaw, summary.Results[1].Outcome)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.DuplicateRaw)
	assert.Equal(t, []string{"x/first.jpg"}, storedFiles(t, p))
}

func TestStoredHashDuplicateAcrossEncodings(t *testing.T) {
	p := newTestPipeline(t)
	data := jpegBytes(t, 11, 90)

	_, err := p.IngestUploads(context.Background(), []Upload{{Path: "plain.jpg", Data: data}})
	require.NoError(t, err)

	// same picture arriving as a data URI: new raw fingerprint, same stored bytes
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	summary, err := p.IngestRows(context.Background(), []SourceRow{scenarioRow(uri)})
	require.NoError(t, err)
	assert.Equal(t, DuplicateStored, summary.Results[0].Outcome)
	assert.Equal(t, 1, summary.DuplicateStored)
	assert.Len(t, storedFiles(t, p), 1)
}

func TestPatternCollisionsGetSuffixes(t *testing.T) {
	p := newTestPipeline(t)
	first := base64.StdEncoding.EncodeToString(jpegBytes(t, 1, 90))
	second := base64.StdEncoding.EncodeToString(jpegBytes(t, 2, 90))

	row2 := scenarioRow(second)
	row2.ID = "2"
	summary, err := p.IngestRows(context.Background(), []SourceRow{scenarioRow(first), row2})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Stored)
	assert.Equal(t, "u1/7_2024_01_15.jpg", summary.Results[0].RelPath)
	assert.Equal(t, "u1/7_2024_01_15_1.jpg", summary.Results[1].RelPath)

	for _, rel := range []string{"u1/7_2024_01_15.jpg", "u1/7_2024_01_15_1.jpg"} {
		_, err := os.Stat(filepath.Join(p.WS.ImagesDir, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}
	assert.Equal(t, int64(2), folderTotal(t, p, "u1"))
}

func TestHEICIsStoredAsJPEG(t *testing.T) {
	p := newTestPipeline(t)
	converter := &fakeConverter{out: jpegBytes(t, 21, 85)}
	p.Converter = converter

	summary, err := p.IngestUploads(context.Background(), []Upload{{Path: "phone/IMG_0001.HEIC", Data: heicPayload(1)}})
	require.NoError(t, err)
	require.Equal(t, Stored, summary.Results[0].Outcome, summary.Results[0].Detail)
	assert.Equal(t, "phone/IMG_0001.jpg", summary.Results[0].RelPath)
	assert.Equal(t, 1, converter.calls)

	f, err := os.Open(filepath.Join(p.WS.ImagesDir, "phone", "IMG_0001.jpg"))
	require.NoError(t, err)
	defer f.Close()
	_, err = jpeg.Decode(f)
	assert.NoError(t, err)

	img, err := repository.NewImageRepository(p.WS.DB).GetByPath("phone/IMG_0001.jpg")
	require.NoError(t, err)
	require.NotNil(t, img.RawHash)
	assert.NotEqual(t, img.StoredHash, *img.RawHash)
	assert.Equal(t, media.Hash(heicPayload(1)), *img.RawHash)
}

func TestConversionFailureDoesNotStopBatch(t *testing.T) {
	p := newTestPipeline(t)
	p.Converter = &fakeConverter{err: errNoEncoder}

	summary, err := p.IngestUploads(context.Background(), []Upload{
		{Path: "a.heic", Data: heicPayload(2)},
		{Path: "b.jpg", Data: jpegBytes(t, 4, 90)},
	})
	require.NoError(t, err)
	assert.Equal(t, Failed, summary.Results[0].Outcome)
	assert.Equal(t, ReasonConversion, summary.Results[0].Reason)
	assert.Equal(t, Stored, summary.Results[1].Outcome)
	assert.Equal(t, []FailureGroup{{Reason: ReasonConversion, Count: 1, Sources: []string{"a.heic"}}}, summary.Failures)
}

func TestUploadPathsAreValidatedBeforeWriting(t *testing.T) {
	p := newTestPipeline(t)
	data := jpegBytes(t, 6, 90)

	summary, err := p.IngestUploads(context.Background(), []Upload{
		{Path: "../escape.jpg", Data: data},
		{Path: "ok/../../escape.jpg", Data: data},
		{Path: "C:/windows/x.jpg", Data: data},
		{Path: "/etc/x.jpg", Data: data},
	})
	require.NoError(t, err)
	for _, r := range summary.Results {
		assert.Equal(t, Failed, r.Outcome, r.Source)
		assert.Equal(t, ReasonInvalidPath, r.Reason, r.Source)
	}
	assert.Empty(t, storedFiles(t, p))
	assert.Zero(t, imageCount(t, p))
}

func TestNonImageUploadsAreRejected(t *testing.T) {
	p := newTestPipeline(t)

	summary, err := p.IngestUploads(context.Background(), []Upload{
		{Path: "vacation/trip.mp4", Data: []byte("not really a video but long enough to sniff")},
		{Path: "vacation/trip.jpg", Data: jpegBytes(t, 8, 90)},
	})
	require.NoError(t, err)
	assert.Equal(t, Failed, summary.Results[0].Outcome)
	assert.Equal(t, ReasonNotImage, summary.Results[0].Reason)
	assert.Empty(t, summary.Results[0].RawHash)
	assert.Equal(t, Stored, summary.Results[1].Outcome)
	assert.Equal(t, []string{"vacation/trip.jpg"}, storedFiles(t, p))
}

func TestBadPayloads(t *testing.T) {
	p := newTestPipeline(t)

	rows := []SourceRow{
		{ID: "1", Row: MapRow{"foto": nil}},
		{ID: "2", Row: MapRow{"foto": "   "}},
		{ID: "3", Row: MapRow{"foto": []byte("%PDF-1.7 definitely not an image, just text")}},
		{ID: "4", Row: MapRow{"foto": pngBytes(t, 2)}},
	}
	summary, err := p.IngestRows(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, ReasonEmptyField, summary.Results[0].Reason)
	assert.Equal(t, ReasonEmptyField, summary.Results[1].Reason)
	assert.Equal(t, ReasonDecode, summary.Results[2].Reason)
	assert.Equal(t, Stored, summary.Results[3].Outcome)
	assert.True(t, filepath.Ext(summary.Results[3].RelPath) == ".png")
	assert.Equal(t, 3, summary.Failed)
	require.Len(t, summary.Failures, 2)
	assert.Equal(t, ReasonDecode, summary.Failures[0].Reason)
	assert.Equal(t, 2, summary.Failures[1].Count)
}

func TestCompressionKeepsRawFingerprint(t *testing.T) {
	p := newTestPipeline(t)
	p.Compressor = &media.Compressor{Enabled: true, JPEGQuality: 40, MinBytes: 0}
	data := jpegBytes(t, 13, 100)

	summary, err := p.IngestUploads(context.Background(), []Upload{{Path: "big.jpg", Data: data}})
	require.NoError(t, err)
	require.Equal(t, Stored, summary.Results[0].Outcome)

	img, err := repository.NewImageRepository(p.WS.DB).GetByPath("big.jpg")
	require.NoError(t, err)
	assert.Less(t, img.Size, int64(len(data)))
	require.NotNil(t, img.RawHash)

	// the original bytes are recognized by their raw fingerprint even though nothing on disk matches them
	summary, err = p.IngestUploads(context.Background(), []Upload{{Path: "again.jpg", Data: data}})
	require.NoError(t, err)
	assert.Equal(t, DuplicateRaw, summary.Results[0].Outcome)
}

func TestConcurrentIngestStoresOnce(t *testing.T) {
	p := newTestPipeline(t)
	data := jpegBytes(t, 17, 90)

	var wg sync.WaitGroup
	summaries := make([]*Summary, 4)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.IngestUploads(context.Background(), []Upload{{Path: "race/pic.jpg", Data: data}})
			if err == nil {
				summaries[i] = s
			}
		}(i)
	}
	wg.Wait()

	stored, failed := 0, 0
	for _, s := range summaries {
		require.NotNil(t, s)
		stored += s.Stored
		failed += s.Failed
	}
	assert.Equal(t, 1, stored)
	assert.Zero(t, failed, "losers are duplicates, never failures")
	assert.Len(t, storedFiles(t, p), 1)
	assert.Equal(t, int64(1), imageCount(t, p))
}

func TestWarmerSeesStoredFiles(t *testing.T) {
	p := newTestPipeline(t)
	warmer := &recordingWarmer{}
	p.Warmer = warmer

	_, err := p.IngestUploads(context.Background(), []Upload{{Path: "w.jpg", Data: jpegBytes(t, 30, 90)}})
	require.NoError(t, err)
	require.Len(t, warmer.paths, 1)
	assert.Equal(t, filepath.Join(p.WS.ImagesDir, "w.jpg"), warmer.paths[0])
}

func TestIngestRowsNeedsNamingConfig(t *testing.T) {
	p := newTestPipeline(t)
	s := p.WS.Settings()
	s.Naming.IdentifierField = ""
	require.NoError(t, p.WS.UpdateSettings(s))

	_, err := p.IngestRows(context.Background(), []SourceRow{scenarioRow("x")})
	assert.ErrorIs(t, err, workspace.ErrMissingConfig)
	assert.Zero(t, imageCount(t, p))
}
