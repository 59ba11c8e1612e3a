package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"instaclean/pkg/instagram"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
)

// DefaultSessionTTL is how long an idle session stays valid
const DefaultSessionTTL = time.Hour

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: metrics.Namespace,
	Subsystem: "auth",
	Name:      "sessions",
	Help:      "Logged-in sessions held in memory.",
})

// Session is one logged-in browser
type Session struct {
	ID          string
	Credentials instagram.Credentials
	User        instagram.User
	CreatedAt   time.Time
	LastSeen    time.Time
}

// Store holds sessions by id
type Store interface {
	Create(creds instagram.Credentials, user instagram.User) (*Session, error)
	Get(id string) (*Session, error)
	Delete(id string)
	DeleteByUser(userID string) int
	Prune(now time.Time) int
	HasUser(userID string) bool
}

// MemoryStore is a process-local Store with an idle timeout
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	clock    func() time.Time
	logger   logger.Logger
}

// NewMemoryStore creates an empty store. A non-positive ttl means DefaultSessionTTL.
func NewMemoryStore(ttl time.Duration, log logger.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		clock:    time.Now,
		logger:   log,
	}
}

// SetClock replaces time.Now
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Create stores a new session under a random id
func (s *MemoryStore) Create(creds instagram.Credentials, user instagram.User) (*Session, error) {
	creds, err := ValidateCredentials(creds)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	sess := &Session{
		ID:          uuid.NewString(),
		Credentials: creds,
		User:        user,
		CreatedAt:   now,
		LastSeen:    now,
	}
	s.sessions[sess.ID] = sess
	activeSessions.Set(float64(len(s.sessions)))

	s.logger.InfoWithFields("Session created", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	})

	cp := *sess
	return &cp, nil
}

// Get returns a copy of the session and refreshes its idle timer
func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.clock()
	if now.Sub(sess.LastSeen) > s.ttl {
		delete(s.sessions, id)
		activeSessions.Set(float64(len(s.sessions)))
		return nil, ErrSessionNotFound
	}
	sess.LastSeen = now

	cp := *sess
	return &cp, nil
}

// Delete removes a session; unknown ids are ignored
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	activeSessions.Set(float64(len(s.sessions)))
}

// DeleteByUser removes every session of an Instagram account and returns
// how many were removed.
func (s *MemoryStore) DeleteByUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Credentials.DSUserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	activeSessions.Set(float64(len(s.sessions)))
	if n > 0 {
		s.logger.InfoWithFields("Sessions cleared", map[string]interface{}{
			"user_id": userID,
			"removed": n,
		})
	}
	return n
}

// Prune removes sessions idle for longer than the TTL at now
func (s *MemoryStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastSeen) > s.ttl {
			delete(s.sessions, id)
			n++
		}
	}
	activeSessions.Set(float64(len(s.sessions)))
	return n
}

// HasUser reports whether any stored session belongs to userID
func (s *MemoryStore) HasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Credentials.DSUserID == userID {
			return true
		}
	}
	return false
}

// Len returns the number of stored sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
