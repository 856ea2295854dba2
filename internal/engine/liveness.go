package engine

import (
	"sync"
	"time"
)

// LivenessTracker remembers the last heartbeat of each consumer session.
// Entries idle for more than ten times the queried threshold are evicted
// lazily on each query.
type LivenessTracker struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

func NewLivenessTracker(now func() time.Time) *LivenessTracker {
	if now == nil {
		now = time.Now
	}
	return &LivenessTracker{sessions: make(map[string]time.Time), now: now}
}

func (l *LivenessTracker) Heartbeat(sessionID string) {
	if sessionID == "" {
		return
	}
	l.mu.Lock()
	l.sessions[sessionID] = l.now()
	l.mu.Unlock()
}

// Forget drops a session immediately, e.g. when its socket closes.
func (l *LivenessTracker) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

func (l *LivenessTracker) IsAnySessionActive(threshold time.Duration) bool {
	return l.ActiveSessions(threshold) > 0
}

// ActiveSessions counts sessions seen within threshold.
func (l *LivenessTracker) ActiveSessions(threshold time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(now, threshold)
	n := 0
	for _, seen := range l.sessions {
		if now.Sub(seen) <= threshold {
			n++
		}
	}
	return n
}

// Evict removes stale entries and returns how many were dropped.
func (l *LivenessTracker) Evict(threshold time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictLocked(now, threshold)
}

func (l *LivenessTracker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *LivenessTracker) evictLocked(now time.Time, threshold time.Duration) int {
	horizon := 10 * threshold
	n := 0
	for id, seen := range l.sessions {
		if now.Sub(seen) > horizon {
			delete(l.sessions, id)
			n++
		}
	}
	return n
}
