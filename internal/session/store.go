package session

import (
	"context"
	"time"
)

// Store is the persistence interface for session records. Implementations
// must be safe for concurrent use and must observe writes immediately on
// subsequent reads of the same token.
type Store interface {
	// Get returns the session for token, or ErrNotFound.
	Get(ctx context.Context, token string) (*Session, error)
	// Save inserts or replaces the session keyed by its token.
	Save(ctx context.Context, s *Session) error
	// Delete removes the session for token. Deleting an absent token is
	// not an error.
	Delete(ctx context.Context, token string) error
	// DeleteExpired removes sessions idle longer than maxIdle and returns
	// the count removed.
	DeleteExpired(ctx context.Context, maxIdle time.Duration) (int64, error)
}
