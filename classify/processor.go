package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/aggregate"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

var (
	// ErrNoPendingWork is returned by claims when every image is processed or leased.
	ErrNoPendingWork = errors.New("no pending images")

	errClaimLost = errors.New("claim expired before the result was recorded")
)

// Detector is what the processor needs from the detector service.
type Detector interface {
	Health(ctx context.Context) error
	Detect(ctx context.Context, filename string, data []byte) ([]RawDetection, error)
}

// StepStatus tells a polling caller whether to keep going.
type StepStatus string

const (
	StepProgressed StepStatus = "progressed"
	StepNoMoreWork StepStatus = "no_more_work"
	StepFailed     StepStatus = "failed"
)

// StepResult is the outcome of one ProcessNext call.
type StepResult struct {
	Status      StepStatus `json:"status"`
	RelPath     string     `json:"rel_path,omitempty"`
	Result      string     `json:"result,omitempty"`
	UnsafeScore float64    `json:"unsafe_score,omitempty"`
	Detections  int        `json:"detections"`
	Error       string     `json:"error,omitempty"`
	Remaining   int64      `json:"remaining"`
}

// Processor advances one workspace's images through detection, one image per call.
type Processor struct {
	WS         *workspace.Workspace
	Detector   Detector
	Aggregates *aggregate.Maintainer
	Lease      time.Duration
	Now        func() time.Time
}

func NewProcessor(ws *workspace.Workspace, detector Detector, lease time.Duration) *Processor {
	return &Processor{
		WS:         ws,
		Detector:   detector,
		Aggregates: aggregate.NewMaintainer(ws.Cache, ws.Log),
		Lease:      lease,
		Now:        time.Now,
	}
}

func (p *Processor) claim() (*models.Image, error) {
	img, err := repository.NewImageRepository(p.WS.DB).ClaimNext(p.Now(), p.Lease)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNoPendingWork
	}
	return img, nil
}

// ProcessNext claims the next pending image, runs it through the detector and records the
// verdict. Per-image problems come back as a failed StepResult; an unreachable detector is
// returned as ErrDetectorUnavailable before anything is claimed.
func (p *Processor) ProcessNext(ctx context.Context) (*StepResult, error) {
	if err := p.Detector.Health(ctx); err != nil {
		return nil, err
	}

	img, err := p.claim()
	if errors.Is(err, ErrNoPendingWork) {
		return &StepResult{Status: StepNoMoreWork}, nil
	}
	if err != nil {
		return nil, err
	}
	claimedAt := *img.ClaimedAt

	result, err := p.detect(ctx, img, claimedAt)
	if err != nil {
		p.WS.Log.Printf("classify: %s failed: %v", img.RelPath, err)
		if !errors.Is(err, errClaimLost) {
			if recErr := p.fail(img, claimedAt, err); recErr != nil {
				return nil, recErr
			}
		}
		result = &StepResult{Status: StepFailed, RelPath: img.RelPath, Error: err.Error()}
	}

	if stats, err := repository.NewImageRepository(p.WS.DB).Stats(); err == nil {
		result.Remaining = stats.Pending
	}
	return result, nil
}

func (p *Processor) detect(ctx context.Context, img *models.Image, claimedAt int64) (*StepResult, error) {
	data, err := os.ReadFile(img.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", img.RelPath, err)
	}
	raw, err := p.Detector.Detect(ctx, filepath.Base(img.AbsPath), data)
	if err != nil {
		return nil, err
	}

	detections := ToDetections(raw, IgnoredSet(p.WS.Settings().IgnoredLabels))
	verdict := Decide(detections)
	outcome := repository.DetectionOutcome{
		Result:      verdict.Result,
		SafeScore:   verdict.SafeScore,
		UnsafeScore: verdict.UnsafeScore,
		At:          p.Now(),
	}

	err = p.WS.DB.Transaction(func(tx *gorm.DB) error {
		owned, err := repository.NewImageRepository(tx).CompleteDetection(img.RelPath, claimedAt, outcome)
		if err != nil {
			return err
		}
		if !owned {
			return errClaimLost
		}
		dets := repository.NewDetectionRepository(tx)
		before, err := dets.DistinctLabels(img.RelPath)
		if err != nil {
			return err
		}
		if err := dets.Replace(img.RelPath, detections); err != nil {
			return err
		}
		after, err := dets.DistinctLabels(img.RelPath)
		if err != nil {
			return err
		}
		return p.Aggregates.DetectionsReplaced(tx, img.FolderPath, before, after, -1)
	})
	if err != nil {
		return nil, err
	}

	if _, err := p.Aggregates.RefreshAvatar(p.WS.DB, img.FolderPath); err != nil {
		p.WS.Log.Printf("classify: avatar refresh for '%s' failed: %v", img.FolderPath, err)
	}
	p.WS.Log.Printf("classify: %s -> %s (%.2f, %d detections)", img.RelPath, verdict.Result, verdict.UnsafeScore, len(detections))
	return &StepResult{
		Status:      StepProgressed,
		RelPath:     img.RelPath,
		Result:      verdict.Result,
		UnsafeScore: verdict.UnsafeScore,
		Detections:  len(detections),
	}, nil
}

func (p *Processor) fail(img *models.Image, claimedAt int64, cause error) error {
	return p.WS.DB.Transaction(func(tx *gorm.DB) error {
		owned, err := repository.NewImageRepository(tx).FailDetection(img.RelPath, claimedAt, cause.Error(), p.Now())
		if err != nil || !owned {
			return err
		}
		return repository.NewFolderRepository(tx).AdjustCounts(img.FolderPath, 0, -1)
	})
}

// ToDetections turns detector output into rows, flagging ignored labels instead of dropping them.
func ToDetections(raw []RawDetection, ignored map[string]bool) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		d := models.Detection{
			Label:   r.Label,
			Score:   r.Score,
			Ignored: ignored[r.Label],
		}
		if r.Box != nil {
			x1, y1, x2, y2 := r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2
			d.X1, d.Y1, d.X2, d.Y2 = &x1, &y1, &x2, &y2
		}
		out = append(out, d)
	}
	return out
}

// ResetReport describes a classification reset.
type ResetReport struct {
	Images int64 `json:"images"`
}

// Reset puts every image back to pending and drops all detections. Files, hashes and image
// rows stay as they are.
func (p *Processor) Reset(ctx context.Context) (*ResetReport, error) {
	report := &ResetReport{}
	var avatars []string
	err := p.WS.DB.Transaction(func(tx *gorm.DB) error {
		n, err := repository.NewImageRepository(tx).ResetAll()
		if err != nil {
			return err
		}
		report.Images = n
		if err := repository.NewDetectionRepository(tx).DeleteAll(); err != nil {
			return err
		}
		avatars, err = repository.NewFolderRepository(tx).ClearAvatars()
		if err != nil {
			return err
		}
		return p.Aggregates.Rebuild(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("classification reset failed: %w", err)
	}
	for _, a := range avatars {
		os.Remove(a)
	}
	p.WS.Log.Printf("classify: reset %d images to pending", report.Images)
	return report, nil
}
