package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// postgresUniqueViolation is the SQLSTATE code Postgres raises for a unique
// constraint conflict (used here for duplicate email and duplicate
// active-revision races caught by the partial unique indexes).
const postgresUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint violation,
// letting callers turn it into a domain-specific "already exists" error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation
}
