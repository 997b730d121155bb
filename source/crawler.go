package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/ingest"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 500
)

var (
	ErrUnknownTable = errors.New("table not found in source")
	// ErrSourceExhausted is returned when no discovered table has rows left
	ErrSourceExhausted = errors.New("every source table is fully crawled")
)

// Crawler moves a workspace's source tables through the ingestion pipeline, one bounded
// batch per call. Progress lives in the workspace store so calls can be spread over time.
type Crawler struct {
	WS       *workspace.Workspace
	Pipeline *ingest.Pipeline
	Open     func(ctx context.Context, s workspace.SourceSettings) (*Reader, error)
}

func NewCrawler(ws *workspace.Workspace, pipeline *ingest.Pipeline) *Crawler {
	return &Crawler{WS: ws, Pipeline: pipeline, Open: Open}
}

// CrawlResult is the outcome of one IngestNext call.
type CrawlResult struct {
	Table   string          `json:"table"`
	Rows    int             `json:"rows"`
	LastID  int64           `json:"last_id"`
	MaxID   int64           `json:"max_id"`
	HasMore bool            `json:"has_more"`
	Summary *ingest.Summary `json:"summary"`
}

// TableProgress pairs a discovered table with its saved cursor.
type TableProgress struct {
	models.TableState
}

// DiscoverTables lists source tables matching pattern (the workspace's table pattern when
// empty) along with how far each has been crawled.
func (c *Crawler) DiscoverTables(ctx context.Context, pattern string) ([]TableProgress, error) {
	settings := c.WS.Settings()
	if err := settings.ValidateSource(); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = settings.Source.TablePattern
	}

	reader, err := c.Open(ctx, settings.Source)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	tables, err := reader.ListTables(ctx, pattern)
	if err != nil {
		return nil, err
	}
	states := repository.NewTableStateRepository(c.WS.DB)
	out := make([]TableProgress, 0, len(tables))
	for _, t := range tables {
		st, err := states.Get(t)
		if err != nil {
			return nil, err
		}
		out = append(out, TableProgress{TableState: *st})
	}
	return out, nil
}

// IngestNext reads the next batch of rows past the table's cursor, hands them to the pipeline
// and advances the cursor. An empty table name picks the first table that still has rows.
func (c *Crawler) IngestNext(ctx context.Context, table string, limit int) (*CrawlResult, error) {
	settings := c.WS.Settings()
	if err := settings.ValidateSource(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	reader, err := c.Open(ctx, settings.Source)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	tables, err := reader.ListTables(ctx, settings.Source.TablePattern)
	if err != nil {
		return nil, err
	}
	states := repository.NewTableStateRepository(c.WS.DB)

	var state *models.TableState
	if table == "" {
		for _, t := range tables {
			st, err := states.Get(t)
			if err != nil {
				return nil, err
			}
			if st.HasMore {
				state = st
				break
			}
		}
		if state == nil {
			return nil, ErrSourceExhausted
		}
	} else {
		found := false
		for _, t := range tables {
			if t == table {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
		}
		if state, err = states.Get(table); err != nil {
			return nil, err
		}
	}

	pk := settings.Source.PrimaryKey
	rows, lastID, err := reader.NextRows(ctx, state.SourceTable, pk, state.LastID, limit)
	if err != nil {
		return nil, err
	}
	maxID, err := reader.MaxID(ctx, state.SourceTable, pk)
	if err != nil {
		return nil, err
	}

	summary := &ingest.Summary{}
	if len(rows) > 0 {
		if summary, err = c.Pipeline.IngestRows(ctx, rows); err != nil {
			return nil, err
		}
	}

	state.LastID = lastID
	state.MaxID = maxID
	state.HasMore = lastID < maxID
	if err := states.Save(state); err != nil {
		return nil, err
	}

	c.WS.Log.Printf("source: %s rows %d, cursor %d/%d, stored %d, skipped %d, failed %d",
		state.SourceTable, len(rows), lastID, maxID, summary.Stored, summary.Skipped(), summary.Failed)
	return &CrawlResult{
		Table:   state.SourceTable,
		Rows:    len(rows),
		LastID:  lastID,
		MaxID:   maxID,
		HasMore: state.HasMore,
		Summary: summary,
	}, nil
}
