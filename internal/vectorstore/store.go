package vectorstore

import (
	"sort"
	"sync"
	"time"
)

// partition holds the records of one scope partition in insertion order.
type partition struct {
	records []*record
	byDoc   map[string][]*record // sorted by Seq
}

func newPartition() *partition {
	return &partition{byDoc: make(map[string][]*record)}
}

// insert adds r, replacing any record of the same document and sequence index.
func (p *partition) insert(r *record) {
	docID := r.passage.DocumentID
	recs := p.byDoc[docID]
	for i, existing := range recs {
		if existing.passage.Seq == r.passage.Seq {
			recs[i] = r
			p.replace(existing, r)
			return
		}
	}
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].passage.Seq > r.passage.Seq })
	recs = append(recs, nil)
	copy(recs[idx+1:], recs[idx:])
	recs[idx] = r
	p.byDoc[docID] = recs
	p.records = append(p.records, r)
}

func (p *partition) replace(old, r *record) {
	for i, existing := range p.records {
		if existing == old {
			p.records[i] = r
			return
		}
	}
}

// removeDocument drops every record of docID and returns how many were removed.
func (p *partition) removeDocument(docID string) int {
	recs, ok := p.byDoc[docID]
	if !ok {
		return 0
	}
	delete(p.byDoc, docID)

	kept := p.records[:0]
	for _, r := range p.records {
		if r.passage.DocumentID != docID {
			kept = append(kept, r)
		}
	}
	// Release references held by the tail of the reused backing array.
	for i := len(kept); i < len(p.records); i++ {
		p.records[i] = nil
	}
	p.records = kept
	return len(recs)
}

func (p *partition) documentCount() int { return len(p.byDoc) }
func (p *partition) passageCount() int  { return len(p.records) }

func (p *partition) stored() []StoredPassage {
	out := make([]StoredPassage, len(p.records))
	for i, r := range p.records {
		out[i] = r.stored()
	}
	return out
}

// Store is the in-memory passage store: the Global and Legacy partitions plus
// one partition per live session. A single RWMutex guards all of it; every
// mutation, including session creation, extension and reaping, takes the
// write lock.
type Store struct {
	mu sync.RWMutex

	global   *partition
	legacy   *partition
	sessions map[string]*session

	dimension int
	gen       uint64

	ttl   time.Duration
	clock func() time.Time
}

// newStore builds an empty store. gen is seeded from the wall clock so ids
// minted by this process never repeat ids minted by an earlier one.
func newStore(ttl time.Duration, clock func() time.Time) *Store {
	return &Store{
		global:   newPartition(),
		legacy:   newPartition(),
		sessions: make(map[string]*session),
		gen:      uint64(clock().UnixNano()),
		ttl:      ttl,
		clock:    clock,
	}
}

// putOutcome reports what a put did.
type putOutcome struct {
	accepted  int
	dimension int // non-zero when this put fixed the store dimension
	rejected  map[error]int
	reaped    bool // an expired partition for the session was dropped first
	replaced  int
	touched   []Scope // scopes the replace removed earlier passages from
}

// put stores embedded passages into scope. Passages whose vector length
// differs from the store dimension are skipped. With replace, every document
// in items is first removed from all scopes; nothing is removed unless at
// least one passage is accepted, so a failed rewrite keeps the old version.
func (s *Store) put(scope Scope, items []StoredPassage, replace bool) putOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := putOutcome{rejected: make(map[error]int)}
	dim := s.dimension
	if dim == 0 && len(items) > 0 {
		dim = len(items[0].Vector)
	}
	fits := make([]StoredPassage, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != dim {
			out.rejected[ErrDimensionMismatch]++
			continue
		}
		fits = append(fits, item)
	}
	if len(fits) == 0 {
		return out
	}
	if s.dimension == 0 {
		s.dimension = dim
		out.dimension = dim
	}

	if replace {
		seen := make(map[string]bool)
		for _, item := range fits {
			id := item.Passage.DocumentID
			if seen[id] {
				continue
			}
			seen[id] = true
			n, touched := s.removeDocumentLocked(id)
			out.replaced += n
			out.touched = append(out.touched, touched...)
		}
	}

	now := s.clock()
	var part *partition
	switch scope.Kind() {
	case ScopeGlobal:
		part = s.global
	case ScopeLegacy:
		part = s.legacy
	case ScopePersonal:
		var sess *session
		sess, out.reaped = s.touchSessionLocked(scope.SessionID(), now)
		part = sess.partition
	}

	s.gen++
	for _, item := range fits {
		p := item.Passage
		p.ID = newPassageID(scope, p.DocumentID, p.Seq, s.gen)
		part.insert(&record{passage: p, vector: item.Vector, modelID: item.ModelID})
		out.accepted++
	}
	return out
}

// partitionLocked returns the partition for scope, or nil when a Personal
// session is not live. Callers must hold the lock and have reaped first.
func (s *Store) partitionLocked(scope Scope) *partition {
	switch scope.Kind() {
	case ScopeGlobal:
		return s.global
	case ScopeLegacy:
		return s.legacy
	case ScopePersonal:
		if sess, ok := s.sessions[scope.SessionID()]; ok {
			return sess.partition
		}
	}
	return nil
}

// candidate is one record in a search snapshot, tagged with its scope.
type candidate struct {
	rec   *record
	scope Scope
}

// snapshot collects search candidates for the given selection in the order
// Global, Personal, Legacy. The session is reaped first when expired.
func (s *Store) snapshot(includeGlobal bool, sessionID string, includeLegacy bool) (cands []candidate, reaped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var personal *partition
	var personalScope Scope
	if sessionID != "" {
		if s.reapSessionLocked(sessionID, s.clock()) {
			reaped = append(reaped, sessionID)
		}
		if sess, ok := s.sessions[sessionID]; ok {
			personal = sess.partition
			personalScope, _ = Personal(sessionID)
		}
	}

	n := 0
	if includeGlobal {
		n += s.global.passageCount()
	}
	if personal != nil {
		n += personal.passageCount()
	}
	if includeLegacy {
		n += s.legacy.passageCount()
	}
	cands = make([]candidate, 0, n)

	if includeGlobal {
		for _, r := range s.global.records {
			cands = append(cands, candidate{rec: r, scope: Global()})
		}
	}
	if personal != nil {
		for _, r := range personal.records {
			cands = append(cands, candidate{rec: r, scope: personalScope})
		}
	}
	if includeLegacy {
		for _, r := range s.legacy.records {
			cands = append(cands, candidate{rec: r, scope: Legacy()})
		}
	}
	return cands, reaped
}

// getByDocument returns the passages of docID ordered by sequence index.
// With a valid scope only that partition is consulted; otherwise Global, then
// each live session in id order, then Legacy, returning the first match.
func (s *Store) getByDocument(docID string, scope Scope) ([]Passage, Scope, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := s.reapExpiredLocked(s.clock())

	collect := func(p *partition) []Passage {
		recs := p.byDoc[docID]
		if len(recs) == 0 {
			return nil
		}
		out := make([]Passage, len(recs))
		for i, r := range recs {
			out[i] = r.passage
			out[i].Metadata = cloneMetadata(r.passage.Metadata)
		}
		return out
	}

	if scope.Valid() {
		if p := s.partitionLocked(scope); p != nil {
			return collect(p), scope, reaped
		}
		return nil, scope, reaped
	}

	if ps := collect(s.global); ps != nil {
		return ps, Global(), reaped
	}
	for _, id := range s.sessionIDsLocked() {
		if ps := collect(s.sessions[id].partition); ps != nil {
			sc, _ := Personal(id)
			return ps, sc, reaped
		}
	}
	if ps := collect(s.legacy); ps != nil {
		return ps, Legacy(), reaped
	}
	return nil, Scope{}, reaped
}

// deleteDocument removes docID from every partition, expired sessions
// included, and returns the number of passages removed and the scopes touched.
func (s *Store) deleteDocument(docID string) (removed int, touched []Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeDocumentLocked(docID)
}

func (s *Store) removeDocumentLocked(docID string) (removed int, touched []Scope) {
	if n := s.global.removeDocument(docID); n > 0 {
		removed += n
		touched = append(touched, Global())
	}
	for _, id := range s.sessionIDsLocked() {
		if n := s.sessions[id].partition.removeDocument(docID); n > 0 {
			removed += n
			sc, _ := Personal(id)
			touched = append(touched, sc)
		}
	}
	if n := s.legacy.removeDocument(docID); n > 0 {
		removed += n
		touched = append(touched, Legacy())
	}
	return removed, touched
}

// clear empties the selected partitions. kind ScopeAny clears everything,
// including the session table. ScopePersonal with an empty sessionID clears
// every session.
func (s *Store) clear(kind ScopeKind, sessionID string) (docs, passages int, sessionsCleared []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := func(p *partition) {
		docs += p.documentCount()
		passages += p.passageCount()
	}

	if kind == ScopeAny || kind == ScopeGlobal {
		drop(s.global)
		s.global = newPartition()
	}
	if kind == ScopeAny || kind == ScopeLegacy {
		drop(s.legacy)
		s.legacy = newPartition()
	}
	if kind == ScopeAny || kind == ScopePersonal {
		for _, id := range s.sessionIDsLocked() {
			if sessionID != "" && id != sessionID {
				continue
			}
			drop(s.sessions[id].partition)
			delete(s.sessions, id)
			sessionsCleared = append(sessionsCleared, id)
		}
	}
	return docs, passages, sessionsCleared
}

// partitionSnapshot captures a partition for persistence. ok is false when a
// Personal session no longer exists.
func (s *Store) partitionSnapshot(scope Scope) (PartitionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := PartitionSnapshot{Scope: scope}
	switch scope.Kind() {
	case ScopeGlobal:
		snap.Passages = s.global.stored()
	case ScopeLegacy:
		snap.Passages = s.legacy.stored()
	case ScopePersonal:
		sess, ok := s.sessions[scope.SessionID()]
		if !ok {
			return snap, false
		}
		snap.Passages = sess.partition.stored()
		snap.CreatedAt = sess.createdAt
		snap.ExpiresAt = sess.expiresAt
	}
	return snap, true
}

// ScopeStats counts one scope's contents.
type ScopeStats struct {
	Documents int `json:"documents"`
	Passages  int `json:"passages"`
}

type storeStats struct {
	global, personal, legacy ScopeStats
	sessions                 int
	dimension                int
	reaped                   []string
}

// stats reaps expired sessions and then counts.
func (s *Store) stats() storeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := s.reapExpiredLocked(s.clock())
	st := s.countsLocked()
	st.reaped = reaped
	return st
}

// counts reports current sizes without reaping, for metrics.
func (s *Store) counts() storeStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Store) countsLocked() storeStats {
	var st storeStats
	st.global = ScopeStats{Documents: s.global.documentCount(), Passages: s.global.passageCount()}
	st.legacy = ScopeStats{Documents: s.legacy.documentCount(), Passages: s.legacy.passageCount()}
	for _, sess := range s.sessions {
		st.personal.Documents += sess.partition.documentCount()
		st.personal.Passages += sess.partition.passageCount()
	}
	st.sessions = len(s.sessions)
	st.dimension = s.dimension
	return st
}

// listDocuments summarizes documents matching f after reaping expired sessions.
func (s *Store) listDocuments(f ListFilter) ([]DocumentInfo, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := s.reapExpiredLocked(s.clock())

	var out []DocumentInfo
	add := func(p *partition, scope Scope) {
		for docID, recs := range p.byDoc {
			meta := recs[0].passage.Metadata
			out = append(out, DocumentInfo{
				DocumentID: docID,
				Filename:   metaString(meta, MetaFilename),
				UploadedBy: metaString(meta, MetaUploadedBy),
				UploadedAt: metaTime(meta, MetaUploadedAt),
				Tags:       metaStrings(meta, MetaTags),
				Passages:   len(recs),
				Scope:      scope.Kind().String(),
				SessionID:  scope.SessionID(),
			})
		}
	}

	if f.Kind == ScopeAny || f.Kind == ScopeGlobal {
		add(s.global, Global())
	}
	if f.Kind == ScopeAny || f.Kind == ScopePersonal {
		for _, id := range s.sessionIDsLocked() {
			if f.SessionID != "" && id != f.SessionID {
				continue
			}
			sc, _ := Personal(id)
			add(s.sessions[id].partition, sc)
		}
	}
	if f.Kind == ScopeAny || f.Kind == ScopeLegacy {
		add(s.legacy, Legacy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, reaped
}

// Dimension returns the fixed embedding dimension, or 0 before the first put.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// restore replaces the store contents with a persisted snapshot. Sessions
// that expired while the process was down are dropped, as are passages whose
// vector length differs from the snapshot dimension.
func (s *Store) restore(snap *Snapshot) (dropped []string, mismatched int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.dimension = snap.Dimension

	load := func(p *partition, items []StoredPassage) {
		for _, item := range items {
			if s.dimension == 0 {
				s.dimension = len(item.Vector)
			}
			if len(item.Vector) != s.dimension {
				mismatched++
				continue
			}
			p.insert(&record{passage: item.Passage, vector: item.Vector, modelID: item.ModelID})
		}
	}

	s.global = newPartition()
	s.legacy = newPartition()
	s.sessions = make(map[string]*session)
	for _, ps := range snap.Partitions {
		switch ps.Scope.Kind() {
		case ScopeGlobal:
			load(s.global, ps.Passages)
		case ScopeLegacy:
			load(s.legacy, ps.Passages)
		case ScopePersonal:
			if !ps.ExpiresAt.After(now) {
				dropped = append(dropped, ps.Scope.SessionID())
				continue
			}
			sess := &session{
				id:        ps.Scope.SessionID(),
				partition: newPartition(),
				createdAt: ps.CreatedAt,
				expiresAt: ps.ExpiresAt,
			}
			load(sess.partition, ps.Passages)
			s.sessions[sess.id] = sess
		}
	}
	return dropped, mismatched
}
