package repositories

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
)

// ErrStorage wraps every driver-level failure returned by this package so
// callers can tell storage faults from validation problems with errors.Is.
var ErrStorage = errors.New("audit storage error")

// psql builds PostgreSQL statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
