package handler

import (
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/viewcache"
)

type session struct {
	cache    *viewcache.Cache
	lastSeen time.Time
}

// Sessions holds one view cache per account
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// NewSessions creates an empty session registry
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Get returns the account's cache, creating it on first use
func (s *Sessions) Get(account string) *viewcache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[account]
	if !ok {
		sess = &session{cache: viewcache.New(account)}
		s.sessions[account] = sess
	}
	sess.lastSeen = s.now()
	return sess.cache
}

// Adopt hands an authoritative snapshot to every session
func (s *Sessions) Adopt(snapshot *model.Snapshot) {
	s.mu.Lock()
	caches := make([]*viewcache.Cache, 0, len(s.sessions))
	for _, sess := range s.sessions {
		caches = append(caches, sess.cache)
	}
	s.mu.Unlock()

	for _, c := range caches {
		c.Adopt(snapshot)
	}
}

// Evict drops sessions idle for longer than idle and returns how many went
func (s *Sessions) Evict(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	evicted := 0
	for account, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, account)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
