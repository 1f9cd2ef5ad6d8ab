package guard

import (
	"sort"
	"sync"
	"time"
)

// SessionInfo is a point-in-time snapshot of one session's recovery
// state.
type SessionInfo struct {
	ID          string    `json:"id"`
	Quarantined bool      `json:"quarantined"`
	Blocks      int       `json:"blocks"`
	Retries     int       `json:"retries"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type sessionState struct {
	id          string
	quarantined bool
	blocks      int
	retries     int
	createdAt   time.Time
	lastSeen    time.Time
}

// sessionTable tracks per-session state without a background goroutine:
// expiry is swept lazily on access and the oldest entry is evicted when
// the cap is hit. Calls with an empty session ID are not tracked.
type sessionTable struct {
	mu        sync.Mutex
	entries   map[string]*sessionState
	max       int
	ttl       time.Duration
	lastSweep time.Time
}

func newSessionTable(max int, ttl time.Duration) *sessionTable {
	return &sessionTable{
		entries: make(map[string]*sessionState),
		max:     max,
		ttl:     ttl,
	}
}

// get returns the live entry for id, dropping it first if stale. Caller
// holds s.mu.
func (s *sessionTable) get(id string, now time.Time) (*sessionState, bool) {
	st, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if now.Sub(st.lastSeen) > s.ttl {
		delete(s.entries, id)
		return nil, false
	}
	return st, true
}

// touch returns the live entry for id, creating one if needed. Caller
// holds s.mu.
func (s *sessionTable) touch(id string, now time.Time) *sessionState {
	if now.Sub(s.lastSweep) >= s.ttl {
		s.sweep(now)
		s.lastSweep = now
	}
	st, ok := s.get(id, now)
	if !ok {
		if len(s.entries) >= s.max {
			s.evictOldest()
		}
		st = &sessionState{id: id, createdAt: now}
		s.entries[id] = st
	}
	st.lastSeen = now
	return st
}

func (s *sessionTable) sweep(now time.Time) {
	for id, st := range s.entries {
		if now.Sub(st.lastSeen) > s.ttl {
			delete(s.entries, id)
		}
	}
}

func (s *sessionTable) evictOldest() {
	var oldest string
	var oldestSeen time.Time
	for id, st := range s.entries {
		if oldest == "" || st.lastSeen.Before(oldestSeen) {
			oldest = id
			oldestSeen = st.lastSeen
		}
	}
	if oldest != "" {
		delete(s.entries, oldest)
	}
}

// quarantined reports whether id is latched. Checking an existing entry
// refreshes its expiry so an actively retrying client stays locked out.
func (s *sessionTable) quarantined(id string, now time.Time) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(id, now)
	if !ok {
		return false
	}
	st.lastSeen = now
	return st.quarantined
}

func (s *sessionTable) quarantine(id string, now time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(id, now).quarantined = true
}

func (s *sessionTable) recordBlock(id string, now time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(id, now).blocks++
}

func (s *sessionTable) recordRetry(id string, now time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(id, now).retries++
}

func (s *sessionTable) snapshot(id string, now time.Time) (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(id, now)
	if !ok {
		return SessionInfo{}, false
	}
	return infoOf(st), true
}

func (s *sessionTable) snapshotAll(now time.Time) []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
	s.lastSweep = now
	out := make([]SessionInfo, 0, len(s.entries))
	for _, st := range s.entries {
		out = append(out, infoOf(st))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func (s *sessionTable) release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

func infoOf(st *sessionState) SessionInfo {
	return SessionInfo{
		ID:          st.id,
		Quarantined: st.quarantined,
		Blocks:      st.blocks,
		Retries:     st.retries,
		CreatedAt:   st.createdAt,
		LastSeen:    st.lastSeen,
	}
}

// Session returns the tracked state for one session ID.
func (g *Guard) Session(id string) (SessionInfo, bool) {
	return g.sessions.snapshot(id, g.now())
}

// Sessions lists every tracked session, most recently seen first.
func (g *Guard) Sessions() []SessionInfo {
	return g.sessions.snapshotAll(g.now())
}

// ReleaseSession drops one session's tracked state, lifting any
// quarantine. It reports whether the session was tracked.
func (g *Guard) ReleaseSession(id string) bool {
	released := g.sessions.release(id)
	if released {
		g.logger.Infow("Session released", "session_id", id)
	}
	return released
}
