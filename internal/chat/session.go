package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjellm/anchor/internal/retrieval"
)

// defaultSessionTTL is how long an idle session survives before the sweeper
// drops it. Sessions live in process memory only; there is no cross-process
// durability in this design.
const defaultSessionTTL = 30 * time.Minute

// maxSessionTurns bounds per-session history to keep prompt assembly and
// memory use flat.
const maxSessionTurns = 20

// TurnRecord is one completed user turn in a session.
type TurnRecord struct {
	UserMessage string
	Answer      string
	Grounded    bool
	Citations   []retrieval.Citation
	At          time.Time
}

// Session is an ephemeral, identifier-keyed record of recent turns, used only
// to assemble short-term context. Turns within one session are processed
// strictly in arrival order, serialized by the session's own mutex.
type Session struct {
	ID uuid.UUID

	mu         sync.Mutex
	turns      []TurnRecord
	lastActive time.Time
}

// lock serializes turn processing for this session.
func (s *Session) lock() { s.mu.Lock() }

func (s *Session) unlock() { s.mu.Unlock() }

// append records a completed turn, trimming history to maxSessionTurns.
// Caller must hold the session lock.
func (s *Session) append(rec TurnRecord) {
	s.turns = append(s.turns, rec)
	if len(s.turns) > maxSessionTurns {
		s.turns = s.turns[len(s.turns)-maxSessionTurns:]
	}
	s.lastActive = rec.At
}

// recent returns a copy of the most recent n turns.
// Caller must hold the session lock.
func (s *Session) recent(n int) []TurnRecord {
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]TurnRecord, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// Sessions is the in-memory session registry. Safe for concurrent use.
type Sessions struct {
	mu  sync.RWMutex
	m   map[uuid.UUID]*Session
	ttl time.Duration
	now func() time.Time
}

// NewSessions creates a session registry. ttl <= 0 uses the default.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{
		m:   make(map[uuid.UUID]*Session),
		ttl: ttl,
		now: time.Now,
	}
}

// GetOrCreate returns the session for id, creating it if absent. Expired
// sessions are swept opportunistically on each call.
func (ss *Sessions) GetOrCreate(id uuid.UUID) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.sweepLocked()

	if s, ok := ss.m[id]; ok {
		return s
	}
	s := &Session{ID: id, lastActive: ss.now()}
	ss.m[id] = s
	return s
}

// Count returns the number of live sessions.
func (ss *Sessions) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.m)
}

// sweepLocked drops sessions idle past the TTL. Caller holds ss.mu.
func (ss *Sessions) sweepLocked() {
	cutoff := ss.now().Add(-ss.ttl)
	for id, s := range ss.m {
		if s.lastActive.Before(cutoff) {
			delete(ss.m, id)
		}
	}
}
