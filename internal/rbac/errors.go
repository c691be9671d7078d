package rbac

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")

	// ErrConflict indicates a unique name is already taken.
	ErrConflict = errors.New("rbac: name already exists")

	// ErrInvalidReference indicates a grant or assignment referenced an id
	// that does not exist in the corresponding store.
	ErrInvalidReference = errors.New("rbac: referenced id does not exist")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
