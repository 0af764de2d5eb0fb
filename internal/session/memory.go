package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"authgate/edge-service/internal/metrics"
)

// MemoryStore keeps sessions in process memory. A janitor goroutine sweeps
// idle sessions at the configured interval; Close stops it.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxIdle time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a store whose janitor sweeps every sweepInterval,
// evicting sessions idle longer than maxIdle. A sweepInterval of zero
// disables the janitor.
func NewMemoryStore(maxIdle, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		maxIdle:  maxIdle,
		done:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy so callers cannot mutate the stored record without
	// going through Save.
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	cp := *sess
	s.mu.Lock()
	s.sessions[cp.Token] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxIdle)
	var removed int64
	s.mu.Lock()
	for token, sess := range s.sessions {
		if sess.LastSeen.Before(cutoff) {
			delete(s.sessions, token)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}

// Close stops the janitor. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			n, _ := s.DeleteExpired(context.Background(), s.maxIdle)
			if n > 0 {
				metrics.SessionsEvicted.Add(float64(n))
				log.Debug().Int64("evicted", n).Msg("session janitor sweep")
			}
		case <-s.done:
			return
		}
	}
}
