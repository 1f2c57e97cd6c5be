package record

import (
	"sort"
	"sync"
	"time"
)

// Store is the in-memory record table plus its on-disk snapshot location.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[Key]CommandRecord
	gen     uint64 // bumped on every mutation
	saved   uint64 // generation of the last successful snapshot

	// persistMu serializes snapshot writers. Lock order: persistMu, then mu.
	persistMu sync.Mutex

	now func() time.Time
}

// NewMemory returns an empty store without a backing file.
// SnapshotAndPersist on such a store is a no-op.
func NewMemory() *Store {
	return newStore("")
}

func newStore(path string) *Store {
	return &Store{
		path:    path,
		records: make(map[Key]CommandRecord),
		now:     time.Now,
	}
}

// Path returns the snapshot location ("" for memory-only stores).
func (s *Store) Path() string {
	return s.path
}

// SetNow overrides the wall clock used for CreatedAt/UpdatedAt stamps.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Upsert inserts or replaces the record for rec's key.
//
// Upserting a dead record (no reply and no signature) removes the key
// instead. Upserting an identical record twice leaves the same state.
func (s *Store) Upsert(rec CommandRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if rec.Dead() {
		if _, ok := s.records[key]; ok {
			delete(s.records, key)
			s.gen++
		}
		return
	}

	now := s.now().UTC()
	if old, ok := s.records[key]; ok {
		rec.CreatedAt = old.CreatedAt
		if rec.MessageDate == 0 {
			rec.MessageDate = old.MessageDate
		}
		if sameContent(old, rec) {
			return
		}
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[key] = rec
	s.gen++
}

func sameContent(a, b CommandRecord) bool {
	return a.ReplyMessageID == b.ReplyMessageID &&
		a.Signature == b.Signature &&
		a.Version == b.Version &&
		a.MessageDate == b.MessageDate
}

// Remove deletes the record for the key. Absent keys are ignored.
func (s *Store) Remove(chatID, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{ChatID: chatID, MessageID: messageID}
	if _, ok := s.records[key]; ok {
		delete(s.records, key)
		s.gen++
	}
}

// Find returns the record for the key, if any.
func (s *Store) Find(chatID, messageID int64) (CommandRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[Key{ChatID: chatID, MessageID: messageID}]
	return rec, ok
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a copy of every record ordered by chat, then message id.
func (s *Store) All() []CommandRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []CommandRecord {
	out := make([]CommandRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].CommandMessageID < out[j].CommandMessageID
	})
	return out
}

// EvictBefore drops records whose command message is older than cutoff.
// Records with an unknown message date are kept. Returns the number evicted.
//
// The platform refuses edits to messages older than 48 hours, so records for
// such messages can never change again.
func (s *Store) EvictBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := cutoff.Unix()
	n := 0
	for key, rec := range s.records {
		if rec.MessageDate != 0 && rec.MessageDate < limit {
			delete(s.records, key)
			n++
		}
	}
	if n > 0 {
		s.gen++
	}
	return n
}

// PruneDead removes records that carry neither a reply nor a signature.
// Upsert never stores such records; this cleans up documents written by
// older versions.
func (s *Store) PruneDead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, rec := range s.records {
		if rec.Dead() {
			delete(s.records, key)
			n++
		}
	}
	if n > 0 {
		s.gen++
	}
	return n
}

// Dirty reports whether the in-memory state differs from the last snapshot.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.saved
}
