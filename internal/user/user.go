// Package user is the credential store adapter: account lookup by email
// and bcrypt password verification. Account records live in the users
// collection; this package never writes them.
package user

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned by Store.FindByEmail when no account matches.
var ErrNotFound = errors.New("account not found")

// Account mirrors the account record schema in the users collection.
type Account struct {
	UUID                 string   `bson:"uuid"`
	Email                string   `bson:"email"`
	Password             string   `bson:"password"` // bcrypt hash
	Fullname             string   `bson:"fullname,omitempty"`
	Title                string   `bson:"title,omitempty"`
	UserType             string   `bson:"userType,omitempty"`
	Location             string   `bson:"location,omitempty"`
	Organization         string   `bson:"organization,omitempty"`
	Biography            string   `bson:"biography,omitempty"`
	Cohort               string   `bson:"cohort,omitempty"`
	Roles                []string `bson:"roles,omitempty"`
	Verified             bool     `bson:"verified"`
	Active               bool     `bson:"active"`
	RecoveryToken        string   `bson:"recoveryToken,omitempty"`
	RecoveryTokenExpires string   `bson:"recoveryTokenExpires,omitempty"`
	SignupToken          string   `bson:"signupToken,omitempty"`
	SignupTokenExpires   string   `bson:"signupTokenExpires,omitempty"`
}

// Store looks up account records.
type Store interface {
	// FindByEmail returns the account for email, or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// VerifyPassword compares a plaintext password against a bcrypt hash.
// A mismatch is (false, nil); any other bcrypt failure (malformed hash,
// cost out of range) is (false, err). bcrypt's comparison is constant
// time by construction.
func VerifyPassword(hash, plain string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
