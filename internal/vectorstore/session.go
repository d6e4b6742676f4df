package vectorstore

import (
	"sort"
	"time"
)

// DefaultSessionTTL is how long a Personal partition lives after its last write.
const DefaultSessionTTL = 24 * time.Hour

// session is a live Personal partition. Its lifecycle is
// Active -> Expired -> Reaped; the expired state is never observable because
// every reader reaps under the same write lock that performs the check.
type session struct {
	id        string
	partition *partition
	createdAt time.Time
	expiresAt time.Time
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Documents int       `json:"documents"`
	Passages  int       `json:"passages"`
}

func (s *session) expired(now time.Time) bool {
	return !now.Before(s.expiresAt)
}

// touchSessionLocked returns the live session for id, creating it when absent
// or expired, and slides its expiry to now+ttl. reaped reports whether an
// expired partition was discarded first.
func (s *Store) touchSessionLocked(id string, now time.Time) (sess *session, reaped bool) {
	reaped = s.reapSessionLocked(id, now)
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id, partition: newPartition(), createdAt: now}
		s.sessions[id] = sess
	}
	sess.expiresAt = now.Add(s.ttl)
	return sess, reaped
}

// reapSessionLocked drops the session if it has expired.
func (s *Store) reapSessionLocked(id string, now time.Time) bool {
	sess, ok := s.sessions[id]
	if !ok || !sess.expired(now) {
		return false
	}
	delete(s.sessions, id)
	return true
}

// reapExpiredLocked drops every expired session and returns their ids.
func (s *Store) reapExpiredLocked(now time.Time) []string {
	var reaped []string
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	return reaped
}

// sessionIDsLocked returns session ids in sorted order.
func (s *Store) sessionIDsLocked() []string {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sessionInfos lists live sessions after reaping expired ones.
func (s *Store) sessionInfos() (infos []SessionInfo, reaped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped = s.reapExpiredLocked(s.clock())
	for _, id := range s.sessionIDsLocked() {
		sess := s.sessions[id]
		infos = append(infos, SessionInfo{
			ID:        id,
			CreatedAt: sess.createdAt,
			ExpiresAt: sess.expiresAt,
			Documents: sess.partition.documentCount(),
			Passages:  sess.partition.passageCount(),
		})
	}
	return infos, reaped
}

// sessionLive reports whether id names a live session, reaping it if expired.
func (s *Store) sessionLive(id string) (live bool, reaped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped = s.reapSessionLocked(id, s.clock())
	_, live = s.sessions[id]
	return live, reaped
}
