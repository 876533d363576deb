// Package userauth implements user signup/login/refresh and the bearer-token
// auth middleware (§4.2 consumer side), grounded on
// original_source/.../routers/auth.py and deps.py. Password hashing uses
// bcrypt (golang.org/x/crypto/bcrypt) rather than the original's argon2:
// password hashing is named an external collaborator in spec.md's
// Non-goals, and bcrypt is the one password-hashing primitive the example
// pack's dependency surface (golang.org/x/crypto, already pulled in for
// other teacher packages) actually provides — see DESIGN.md.
package userauth

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored bcrypt hash.
func VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
