package database

import (
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Builder renders '?' placeholders; gorm rebinds them for postgres.
var Builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// classification and detection states
const (
	StatusNA         = "na"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOK         = "ok"
	StatusError      = "error"
)

const (
	ResultSafe   = "safe"
	ResultUnsafe = "unsafe"
)

// IsUniqueViolation reports whether err came from a unique constraint, on either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
