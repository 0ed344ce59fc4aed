package stores

// SessionStore remembers the entities each conversation mentioned lately so
// a follow-up query like "what about there?" can still seed the graph. It is
// in-memory and safe for concurrent use; sessions expire after a TTL.

import (
	"slices"
	"sync"
	"time"
)

const defaultRecent = 16

// sessionData wraps the recent names with an expiration time
type sessionData struct {
	Names     []string
	ExpiresAt time.Time
}

// InMemorySessionStore implements memory.ContextStore.
type InMemorySessionStore struct {
	mu         sync.RWMutex
	data       map[string]*sessionData
	expiration time.Duration
	limit      int
	done       chan struct{}
	once       sync.Once
}

func NewInMemorySessionStore(expiration time.Duration) *InMemorySessionStore {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	store := &InMemorySessionStore{
		data:       make(map[string]*sessionData),
		expiration: expiration,
		limit:      defaultRecent,
		done:       make(chan struct{}),
	}

	go store.cleanupExpired()

	return store
}

// Recent returns the session's names, most recently mentioned first.
func (s *InMemorySessionStore) Recent(id string) []string {
	if id == "" {
		return nil
	}

	s.mu.RLock()
	sessionData, ok := s.data[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	if time.Now().After(sessionData.ExpiresAt) {
		s.Delete(id)
		return nil
	}

	return slices.Clone(sessionData.Names)
}

// Remember moves names to the front of the session and refreshes its TTL.
func (s *InMemorySessionStore) Remember(id string, names ...string) {
	if id == "" || len(names) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[id]

	if !ok || time.Now().After(current.ExpiresAt) {
		current = &sessionData{}
		s.data[id] = current
	}

	merged := make([]string, 0, len(names)+len(current.Names))

	for _, name := range append(slices.Clone(names), current.Names...) {
		if name != "" && !slices.Contains(merged, name) {
			merged = append(merged, name)
		}
	}

	if len(merged) > s.limit {
		merged = merged[:s.limit]
	}

	current.Names = merged
	current.ExpiresAt = time.Now().Add(s.expiration)
}

func (s *InMemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *InMemorySessionStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sessionData := range s.data {
		if now.After(sessionData.ExpiresAt) {
			delete(s.data, id)
		}
	}
}

// Close stops the cleanup goroutine.
func (s *InMemorySessionStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *InMemorySessionStore) cleanupExpired() {
	ticker := time.NewTicker(min(s.expiration, time.Hour))
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
