package db

import (
	"context"
	"fmt"
)

// CreateUser inserts a new user row. Returns a unique-violation wrapped error
// the caller can detect with IsUniqueViolation for "email_already_registered".
func (q *Queries) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES (lower($1), $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks up a user by lower-cased email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = lower($1)
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByID looks up a user by surrogate id.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
