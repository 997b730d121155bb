package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/ingest"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/utils"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

const (
	DriverSQLite = "sqlite3"
	DriverPgx    = "pgx"
)

var ErrUnsupportedDriver = errors.New("unsupported source driver")

// Reader reads rows out of the external relational source a workspace crawls.
type Reader struct {
	DB      *sql.DB
	Driver  string
	builder sq.StatementBuilderType
}

// Open connects to the source described by s. The connection is checked before returning.
func Open(ctx context.Context, s workspace.SourceSettings) (*Reader, error) {
	var builder sq.StatementBuilderType
	switch s.Driver {
	case DriverSQLite, "":
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
		s.Driver = DriverSQLite
	case DriverPgx:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, s.Driver)
	}

	db, err := sql.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}
	return &Reader{DB: db, Driver: s.Driver, builder: builder}, nil
}

func (r *Reader) Close() error {
	return r.DB.Close()
}

// ListTables returns the source tables whose name matches the glob pattern, naturally sorted.
// An empty pattern matches everything.
func (r *Reader) ListTables(ctx context.Context, pattern string) ([]string, error) {
	var q sq.SelectBuilder
	if r.Driver == DriverPgx {
		q = r.builder.Select("table_name").From("information_schema.tables").
			Where("table_schema = current_schema()").
			Where(sq.Eq{"table_type": "BASE TABLE"})
	} else {
		q = r.builder.Select("name").From("sqlite_master").
			Where(sq.Eq{"type": "table"}).
			Where(sq.NotLike{"name": "sqlite_%"})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListTables: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list source tables: %w", err)
	}
	defer rows.Close()

	pattern = strings.TrimSpace(pattern)
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if pattern != "" {
			ok, err := path.Match(pattern, name)
			if err != nil {
				return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
			}
			if !ok {
				continue
			}
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	utils.NaturalSort(tables)
	return tables, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// MaxID is the largest primary key currently in table, 0 when empty.
func (r *Reader) MaxID(ctx context.Context, table, pk string) (int64, error) {
	sqlStr, args, err := r.builder.Select("MAX(" + quoteIdent(pk) + ")").From(quoteIdent(table)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for MaxID: %w", err)
	}
	var max sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max %s of %s: %w", pk, table, err)
	}
	return max.Int64, nil
}

// NextRows returns up to limit rows of table with pk > afterID in ascending key order,
// plus the key of the last row returned (afterID when none).
func (r *Reader) NextRows(ctx context.Context, table, pk string, afterID int64, limit int) ([]ingest.SourceRow, int64, error) {
	sqlStr, args, err := r.builder.Select("*").From(quoteIdent(table)).
		Where(sq.Gt{quoteIdent(pk): afterID}).
		OrderBy(quoteIdent(pk) + " ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, afterID, fmt.Errorf("failed to build SQL for NextRows: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, afterID, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, afterID, err
	}

	lastID := afterID
	var out []ingest.SourceRow
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, afterID, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}

		row := make(ingest.MapRow, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		idText, ok := row.Field(pk)
		if !ok {
			return nil, afterID, fmt.Errorf("row of %s has no %s", table, pk)
		}
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			return nil, afterID, fmt.Errorf("row of %s has unusable %s: %w", table, pk, err)
		}
		lastID = id
		out = append(out, ingest.SourceRow{Table: table, ID: strconv.FormatInt(id, 10), Row: row})
	}
	if err := rows.Err(); err != nil {
		return nil, afterID, err
	}
	return out, lastID, nil
}
